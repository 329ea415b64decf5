package codegen

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/xiyu1984/halo2-solidity-verifier/plan"
)

// listingTemplate renders the generated verifier's interface contract: the
// calldata layout a caller must produce and the challenge schedule the
// bytecode replays. It is documentation output, emitted next to the
// bytecode artifacts.
const listingTemplate = `// verifier {{.Digest}}
// runtime: {{.RuntimeBytes}} bytes, calldata: {{.CalldataBytes}} bytes
// scalar slots: {{.NumScalars}}, point slots: {{.NumPoints}}, ops: {{.NumOps}}

calldata layout (no selector):
{{- range .Fields}}
  [{{printf "0x%04x" .Offset}}..{{printf "0x%04x" .End}})  {{.Name}}
{{- end}}

challenge schedule:
{{- range .Challenges}}
  {{.Name}} -> scalar slot {{.Slot}}
{{- end}}
`

type listingData struct {
	Digest        string
	RuntimeBytes  int
	CalldataBytes int
	NumScalars    int
	NumPoints     int
	NumOps        int
	Fields        []listingField
	Challenges    []listingChallenge
}

type listingField struct {
	Name   string
	Offset int
	End    int
}

type listingChallenge struct {
	Name string
	Slot int
}

func renderListing(prog *plan.Program, runtimeBytes int) (string, error) {
	data := listingData{
		Digest:        hex.EncodeToString(prog.Digest[:]),
		RuntimeBytes:  runtimeBytes,
		CalldataBytes: prog.Layout.TotalLen,
		NumScalars:    prog.NumScalars,
		NumPoints:     prog.NumPoints,
		NumOps:        len(prog.Ops),
	}
	for _, f := range prog.Layout.Fields {
		data.Fields = append(data.Fields, listingField{Name: f.Name, Offset: f.Offset, End: f.Offset + f.Len})
	}
	for name, slot := range prog.Challenges {
		data.Challenges = append(data.Challenges, listingChallenge{Name: name, Slot: slot})
	}
	// map order is not deterministic; the listing must be
	sort.Slice(data.Challenges, func(i, j int) bool {
		return data.Challenges[i].Slot < data.Challenges[j].Slot
	})

	tmpl, err := template.New("listing").Parse(listingTemplate)
	if err != nil {
		return "", fmt.Errorf("listing template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render listing: %w", err)
	}
	return sb.String(), nil
}
