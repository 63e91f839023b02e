package fsck

import (
	"bytes"
	"encoding/binary"

	"github.com/udfsck/udfsck/internal/elog"
	"github.com/udfsck/udfsck/internal/udf"
)

// fidName best-effort decodes an ECMA-167 dstring FileIdent field for
// display, without re-validating it.
func fidName(field []byte) string {
	if len(field) == 0 {
		return ""
	}
	compID := field[0]
	var payload []byte
	if compID == udf.DstringCompAudio8 || compID == udf.DstringCompAudio16 {
		payload = field[1:]
	} else if len(field) >= 2 {
		payload = field[1 : len(field)-1]
	}

	if compID == udf.DstringCompRaw16 || compID == udf.DstringCompAudio16 {
		var sb bytes.Buffer
		for i := 0; i+1 < len(payload); i += 2 {
			u := binary.BigEndian.Uint16(payload[i : i+2])
			if u == 0 {
				break
			}
			sb.WriteRune(rune(u))
		}
		return sb.String()
	}

	n := bytes.IndexByte(payload, 0)
	if n == -1 {
		n = len(payload)
	}
	return string(payload[:n])
}

// Tree renders the file tree rooted at the FSD's root directory as a
// box-drawing listing, one entry per line.
func (c *Checker) Tree(log elog.View) error {
	return c.renderTree(log, c.fsd.RootDirectoryICB, "/", nil)
}

func (c *Checker) renderTree(log elog.View, icb udf.LongAD, name string, code []int) error {
	prefix := ""
	idx := len(code) - 1
	for i, ch := range code {
		switch ch {
		case 0:
			prefix += "    "
		case 1:
			prefix += "│   "
		case 2:
			if i == idx {
				prefix += "├── "
			} else {
				prefix += "│   "
			}
		case 3:
			if i == idx {
				prefix += "└── "
			} else {
				prefix += "    "
			}
		}
	}
	log.Printf("%s%s", prefix, name)

	fe, err := c.resolveFE(icb)
	if err != nil || !fe.valid || !fe.icbTag.IsDirectory() {
		return nil
	}

	adKind := fe.icbTag.ADKind()
	extents, err := c.collectExtents(fe.allocRaw, adKind)
	if err != nil {
		return err
	}
	contents, _, err := c.readExtentData(extents)
	if err != nil {
		return err
	}

	type child struct {
		icb  udf.LongAD
		name string
	}
	var children []child

	pos := 0
	for pos+udf.FIDFixedSize <= len(contents) {
		var fid udf.FID
		r := bytes.NewReader(contents[pos:])
		if err := binary.Read(r, binary.LittleEndian, &fid); err != nil {
			break
		}
		recLen := udf.FIDRecordLength(int(fid.LengthOfImplUse), int(fid.LengthFileIdent))
		if pos+recLen > len(contents) {
			break
		}
		record := contents[pos : pos+recLen]
		pos += recLen

		if fid.IsDeleted() || fid.IsParent() || fid.ICB.ExtLocationLBN == icb.ExtLocationLBN {
			continue
		}

		identOff := udf.FIDFixedSize + int(fid.LengthOfImplUse)
		ident := record[identOff : identOff+int(fid.LengthFileIdent)]
		children = append(children, child{icb: fid.ICB, name: fidName(ident)})
	}

	if len(children) == 0 {
		return nil
	}

	idx = len(code)
	code = append(code, 2)
	for i := 0; i < len(children)-1; i++ {
		if err := c.renderTree(log, children[i].icb, children[i].name, code); err != nil {
			return err
		}
	}
	code[idx] = 3
	if err := c.renderTree(log, children[len(children)-1].icb, children[len(children)-1].name, code); err != nil {
		return err
	}

	return nil
}
