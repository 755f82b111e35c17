package contentstream

import (
	"fmt"
	"io"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/scanner"
)

// Operation is one operator with its operands. InlineData holds the bytes
// between ID and EI for inline images, whose dictionary is Operands[0].
type Operation struct {
	Operator   string
	Operands   []raw.Object
	InlineData []byte
	Offset     int64
}

// Name returns operand i as a name, or "".
func (op Operation) Name(i int) string {
	if i < len(op.Operands) {
		if n, ok := op.Operands[i].(raw.NameObj); ok {
			return n.Val
		}
	}
	return ""
}

func (op Operation) Float(i int) (float64, bool) {
	if i < len(op.Operands) {
		if n, ok := op.Operands[i].(raw.NumberObj); ok {
			return n.Float(), true
		}
	}
	return 0, false
}

// MCID returns the /MCID of a BDC property dictionary, or -1.
func (op Operation) MCID() int {
	if op.Operator != "BDC" || len(op.Operands) < 2 {
		return -1
	}
	props, ok := op.Operands[1].(*raw.DictObj)
	if !ok {
		return -1
	}
	if id, ok := props.GetInt("MCID"); ok && id >= 0 {
		return int(id)
	}
	return -1
}

const maxInlineImage = 4 << 20

// Parse tokenizes content and calls fn for each operation in order.
func Parse(content []byte, fn func(Operation) error) error {
	tok := scanner.FromBytes(content, scanner.Config{MaxInlineImage: maxInlineImage})
	objs := scanner.NewObjectReader(tok)
	var operands []raw.Object
	for {
		t, err := tok.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if t.Type == scanner.TokenKeyword {
			switch t.Str {
			case "true", "false", "null":
			default:
				op := Operation{Operator: t.Str, Operands: operands, Offset: t.Pos}
				if t.Str == "BI" {
					if op, err = readInlineImage(tok, objs, t.Pos); err != nil {
						return err
					}
				}
				if err := fn(op); err != nil {
					return err
				}
				operands = nil
				continue
			}
		}
		v, err := objs.ReadValue(t)
		if err != nil {
			return err
		}
		operands = append(operands, v)
	}
	if len(operands) > 0 {
		return fmt.Errorf("dangling operands: %d", len(operands))
	}
	return nil
}

// readInlineImage reads the key/value pairs after BI up to ID, then the
// image data up to EI.
func readInlineImage(tok *scanner.Tokenizer, objs *scanner.ObjectReader, pos int64) (Operation, error) {
	dict := raw.Dict()
	for {
		t, err := tok.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image at offset %d: %w", pos, err)
		}
		if t.IsKeyword("ID") {
			break
		}
		if t.Type != scanner.TokenName {
			return Operation{}, fmt.Errorf("inline image at offset %d: expected key, got %s", pos, t.Type)
		}
		vt, err := tok.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image at offset %d: %w", pos, err)
		}
		v, err := objs.ReadValue(vt)
		if err != nil {
			return Operation{}, err
		}
		dict.Put(t.Str, v)
	}
	data, err := tok.ReadInlineImageData()
	if err != nil {
		return Operation{}, err
	}
	return Operation{Operator: "BI", Operands: []raw.Object{dict}, InlineData: data, Offset: pos}, nil
}

// CollectMCIDs returns the marked-content identifiers opened by BDC in
// content, in order of appearance. Parsing stops quietly at the first
// malformed operation.
func CollectMCIDs(content []byte) []int {
	var ids []int
	_ = Parse(content, func(op Operation) error {
		if id := op.MCID(); id >= 0 {
			ids = append(ids, id)
		}
		return nil
	})
	return ids
}
