package pack

import (
	"fmt"
	"sort"

	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/types"
)

// DeriveIO converts the package's inputs and outputs sections into
// canonical descriptors
func DeriveIO(pkg map[string]interface{}) (inputs, outputs []*iomodel.WPSIO, err error) {
	inputs, err = deriveSection(pkg["inputs"], iomodel.DirectionInput)
	if err != nil {
		return nil, nil, err
	}
	outputs, err = deriveSection(pkg["outputs"], iomodel.DirectionOutput)
	if err != nil {
		return nil, nil, err
	}
	return inputs, outputs, nil
}

// deriveSection accepts the list form ([{id, type, ...}]), the mapping
// form ({id: {type, ...}}) and the shorthand form ({id: "type"})
func deriveSection(raw interface{}, dir iomodel.Direction) ([]*iomodel.WPSIO, error) {
	var entries []map[string]interface{}

	switch section := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		for _, e := range section {
			body, ok := e.(map[string]interface{})
			if !ok {
				return nil, &types.PackageTypeError{Reason: fmt.Sprintf("invalid %s entry in package definition", dir)}
			}
			entries = append(entries, body)
		}
	case map[string]interface{}:
		ids := make([]string, 0, len(section))
		for id := range section {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			switch body := section[id].(type) {
			case map[string]interface{}:
				withID := make(map[string]interface{}, len(body)+1)
				for k, v := range body {
					withID[k] = v
				}
				withID["id"] = id
				entries = append(entries, withID)
			case string:
				entries = append(entries, map[string]interface{}{"id": id, "type": body})
			default:
				return nil, &types.PackageTypeError{Field: id, Reason: "unsupported I/O shorthand"}
			}
		}
	default:
		return nil, &types.PackageTypeError{Reason: fmt.Sprintf("invalid %s section in package definition", dir)}
	}

	out := make([]*iomodel.WPSIO, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		pio, err := iomodel.ParsePackageIO(entry, dir)
		if err != nil {
			return nil, err
		}
		if seen[pio.ID] {
			return nil, &types.PackageTypeError{Field: pio.ID, Reason: "duplicate I/O identifier"}
		}
		seen[pio.ID] = true
		wps, err := pio.ToWPS(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, wps)
	}
	return out, nil
}
