// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package nexus

import (
	"fmt"
	"strings"
)

// Default attributes for a freshly written parameter dataset when the
// copied raw group carries none.
var defaultParamAttrs = Attrs{"units": "1/nm"}

// SaveResult writes a reduction result under /ENTRY/<name> (upper-cased).
//
// The canonical raw group is copied first so the result inherits shared
// provenance, then its payload children are replaced: the parameter
// array lands under symbol (taking over the attributes of the raw "Q"
// child when present), intensity under "I", and the uncertainty
// siblings are zero-filled.  The persisted schema depends on the rank
// of the intensity: a 1D profile drops the mask and records its axis
// attributes; a 2D image keeps the mask and drops the pointwise
// coordinate-uncertainty datasets.  The new payload is staged in full
// and swapped in at the end, so a failure cannot leave the container
// without the group.
func SaveResult(f *File, symbol string, param *Dataset, groupName string, intensity *Dataset, mask *Dataset) error {
	name := strings.ToUpper(groupName)

	switch intensity.Rank() {
	case 1:
		if param.Rank() != 1 || param.Len() != intensity.Len() {
			return &ShapeError{Name: name + "/" + symbol, Want: fmt.Sprintf("[%d]", intensity.Len()), Got: param.Shape}
		}
	case 2:
		h, w := intensity.Shape[0], intensity.Shape[1]
		if param.Rank() != 3 || param.Shape[0] != h || param.Shape[1] != w || param.Shape[2] != 2 {
			return &ShapeError{Name: name + "/" + symbol, Want: fmt.Sprintf("[%d %d 2]", h, w), Got: param.Shape}
		}
		if mask == nil || mask.Rank() != 2 || mask.Shape[0] != h || mask.Shape[1] != w {
			got := []int(nil)
			if mask != nil {
				got = mask.Shape
			}
			return &ShapeError{Name: name + "/mask", Want: fmt.Sprintf("[%d %d]", h, w), Got: got}
		}
	default:
		return &ShapeError{Name: name + "/I", Want: "rank 1 or 2", Got: intensity.Shape}
	}

	entry := f.Entry()
	raw, ok := entry.Group(DataGroup)
	if !ok {
		return fmt.Errorf("nexus: %s: no /%s/%s group to inherit from", f.path, EntryGroup, DataGroup)
	}

	var tgt *Group
	if name == DataGroup {
		tgt = raw
	} else {
		tgt = raw.Clone()
	}

	paramAttrs := defaultParamAttrs.clone()
	if old, ok := tgt.Dataset("Q"); ok {
		paramAttrs = old.Attrs.clone()
		tgt.Delete("Q")
	}
	p := param.Clone()
	if p.Attrs == nil {
		p.Attrs = Attrs{}
	}
	for k, v := range paramAttrs {
		if _, exists := p.Attrs[k]; !exists {
			p.Attrs[k] = v
		}
	}
	tgt.SetDataset(symbol, p)

	iv := intensity.Clone()
	if old, ok := tgt.Dataset("I"); ok && iv.Attrs == nil {
		iv.Attrs = old.Attrs.clone()
	}
	tgt.SetDataset("I", iv)
	tgt.SetDataset("Idev", ZerosLike(intensity))
	tgt.SetDataset("Qmean", NewFloats([]float64{0}))

	switch intensity.Rank() {
	case 1:
		tgt.SetDataset("Qdev", ZerosLike(param))
		tgt.SetDataset("dQl", ZerosLike(param))
		tgt.SetDataset("dQw", ZerosLike(param))
		tgt.Delete("mask")
		tgt.Attrs["I_axes"] = symbol
		tgt.Attrs["Q_indices"] = []int64{0}
		tgt.Attrs["mask_indices"] = []int64{0}
	case 2:
		mv := mask.Clone()
		if old, ok := tgt.Dataset("mask"); ok && mv.Attrs == nil {
			mv.Attrs = old.Attrs.clone()
		}
		tgt.SetDataset("mask", mv)
		tgt.Delete("Qdev")
		tgt.Delete("dQl")
		tgt.Delete("dQw")
	}

	if name != DataGroup {
		entry.SetGroup(name, tgt)
	}
	logger().Debug("result group written", "file", f.path, "group", name, "rank", intensity.Rank())
	return nil
}

// WriteProcess records the provenance group /ENTRY/PROCESS_<suffix>,
// fully replacing any previous run's record.
func WriteProcess(f *File, suffix, name, description string) {
	g := NewGroup()
	g.Attrs["NX_class"] = "NXprocess"
	g.Attrs["canSAS_class"] = "SASprocess"
	g.SetDataset("name", NewScalarString(name))
	g.SetDataset("description", NewScalarString(description))
	f.Entry().SetGroup("PROCESS_"+strings.ToUpper(suffix), g)
}

// ProcessSuffix derives the process-group suffix from a result-group
// name: DATA_Q_SPACE -> Q_SPACE.
func ProcessSuffix(groupName string) string {
	return strings.TrimPrefix(strings.ToUpper(groupName), "DATA_")
}

// DeleteGroup removes /ENTRY/<name> (upper-cased).  Deleting the
// canonical raw group is refused.  Deleting an absent group is a no-op.
func DeleteGroup(f *File, name string) error {
	up := strings.ToUpper(name)
	if up == DataGroup {
		return fmt.Errorf("nexus: refusing to delete /%s/%s", EntryGroup, DataGroup)
	}
	f.Entry().Delete(up)
	return nil
}
