package complaint

import "fmt"

// Category is one of the six municipal departments a complaint can belong to.
// The numeric order is fixed and doubles as the tie-break order for argmax.
type Category int

const (
	Building Category = iota
	Electric
	Road
	Sanitation
	Sewerage
	WaterSupply

	// NumCategories is the size of the closed category set.
	NumCategories = 6
)

var categoryLabels = [NumCategories]string{
	Building:    "Building Department",
	Electric:    "Electric Department",
	Road:        "Road Department",
	Sanitation:  "Sanitation Department",
	Sewerage:    "Sewerage Department",
	WaterSupply: "Water Supply Department",
}

// Categories returns every category in tie-break order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// Valid reports whether c is a member of the closed set.
func (c Category) Valid() bool {
	return c >= 0 && int(c) < NumCategories
}

// String returns the department label used on the wire and in storage.
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryLabels[c]
}

// ParseCategory maps a department label back to its Category.
func ParseCategory(label string) (Category, error) {
	for i, l := range categoryLabels {
		if l == label {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown category %q", ErrValidation, label)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(categoryLabels[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
