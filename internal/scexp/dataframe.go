package scexp

import "fmt"

// DataFrame is a small column store keyed by name, used for gene (row) and
// cell (column) annotations. Columns are appended over the life of an
// analysis and are never dropped; filtering removes entries from every column
// at once via Subset.
type DataFrame struct {
	n       int
	order   []string
	strings map[string][]string
	floats  map[string][]float64
	ints    map[string][]int
}

// NewDataFrame returns an empty frame with n rows.
func NewDataFrame(n int) *DataFrame {
	return &DataFrame{
		n:       n,
		strings: make(map[string][]string),
		floats:  make(map[string][]float64),
		ints:    make(map[string][]int),
	}
}

// Len returns the number of rows.
func (df *DataFrame) Len() int { return df.n }

// Columns returns column names in insertion order.
func (df *DataFrame) Columns() []string { return append([]string(nil), df.order...) }

// Has reports whether a column with the given name exists.
func (df *DataFrame) Has(name string) bool {
	_, s := df.strings[name]
	_, f := df.floats[name]
	_, i := df.ints[name]
	return s || f || i
}

func (df *DataFrame) checkAdd(name string, n int) error {
	if df.Has(name) {
		return fmt.Errorf("scexp: column %q already exists", name)
	}
	if n != df.n {
		return fmt.Errorf("scexp: column %q has %d values, frame has %d rows: %w", name, n, df.n, ErrDimMismatch)
	}
	return nil
}

// SetStrings adds a string column.
func (df *DataFrame) SetStrings(name string, v []string) error {
	if err := df.checkAdd(name, len(v)); err != nil {
		return err
	}
	df.strings[name] = append([]string(nil), v...)
	df.order = append(df.order, name)
	return nil
}

// SetFloats adds a float64 column.
func (df *DataFrame) SetFloats(name string, v []float64) error {
	if err := df.checkAdd(name, len(v)); err != nil {
		return err
	}
	df.floats[name] = append([]float64(nil), v...)
	df.order = append(df.order, name)
	return nil
}

// SetInts adds an int column.
func (df *DataFrame) SetInts(name string, v []int) error {
	if err := df.checkAdd(name, len(v)); err != nil {
		return err
	}
	df.ints[name] = append([]int(nil), v...)
	df.order = append(df.order, name)
	return nil
}

// Strings returns a string column, or nil if absent.
func (df *DataFrame) Strings(name string) []string { return df.strings[name] }

// Floats returns a float64 column, or nil if absent.
func (df *DataFrame) Floats(name string) []float64 { return df.floats[name] }

// Ints returns an int column, or nil if absent.
func (df *DataFrame) Ints(name string) []int { return df.ints[name] }

// Subset returns a frame keeping only rows where keep is true, applied to
// every column.
func (df *DataFrame) Subset(keep []bool) (*DataFrame, error) {
	if len(keep) != df.n {
		return nil, fmt.Errorf("scexp: keep mask length %d != %d rows: %w", len(keep), df.n, ErrDimMismatch)
	}
	nkeep := 0
	for _, k := range keep {
		if k {
			nkeep++
		}
	}
	out := NewDataFrame(nkeep)
	out.order = append([]string(nil), df.order...)
	for name, col := range df.strings {
		sub := make([]string, 0, nkeep)
		for i, k := range keep {
			if k {
				sub = append(sub, col[i])
			}
		}
		out.strings[name] = sub
	}
	for name, col := range df.floats {
		sub := make([]float64, 0, nkeep)
		for i, k := range keep {
			if k {
				sub = append(sub, col[i])
			}
		}
		out.floats[name] = sub
	}
	for name, col := range df.ints {
		sub := make([]int, 0, nkeep)
		for i, k := range keep {
			if k {
				sub = append(sub, col[i])
			}
		}
		out.ints[name] = sub
	}
	return out, nil
}
