package render

import (
	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

// Plane is a 2-D cut through a volume holding scaled sample values.  Cols is
// the extent of the faster of the two remaining axes and the row length of
// Values.
type Plane struct {
	Cols, Rows int
	Values     []float64
}

// At returns the sample at column c and row r.
func (p Plane) At(c, r int) float64 {
	return p.Values[r*p.Cols+c]
}

// ExtractPlane returns the plane perpendicular to axis at index.  An index
// outside the volume fails with IndexOutOfRange.
func ExtractPlane(vol *volume.Volume, axis volview.Axis, index int) (Plane, error) {
	if !axis.Valid() {
		return Plane{}, volview.NewError(volview.BadRequest, "invalid axis %s", axis)
	}
	cols, rows := vol.PlaneSize(axis)
	values := make([]float64, cols*rows)
	if _, _, err := vol.CopyPlane(axis, index, values); err != nil {
		return Plane{}, err
	}
	return Plane{Cols: cols, Rows: rows, Values: values}, nil
}
