package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Order selects which partition-key column is the outer grouping key.
type Order int

const (
	// TopSecond groups by the top partition column first.
	TopSecond Order = iota
	// SecondTop groups by the second partition column first.
	SecondTop
)

// AllOrders lists the orders in canonical order.
var AllOrders = []Order{TopSecond, SecondTop}

func (o Order) String() string {
	switch o {
	case TopSecond:
		return "top_second"
	case SecondTop:
		return "second_top"
	default:
		return "unknown"
	}
}

// ParseOrder parses "top_second" or "second_top"; "top,second" and "second,top" are accepted too.
func ParseOrder(s string) (Order, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(",", "_", "-", "_", " ", "").Replace(norm)
	switch norm {
	case "top_second":
		return TopSecond, nil
	case "second_top":
		return SecondTop, nil
	}
	return 0, fmt.Errorf("unknown grouping order %q (use top_second or second_top)", s)
}

func (o Order) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Order) UnmarshalText(b []byte) error {
	v, err := ParseOrder(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// KeyColumns names a dataset's two partition-key columns.
type KeyColumns struct {
	Top    string `json:"top"`
	Second string `json:"second"`
}

// Validate checks the two columns are non-empty and distinct.
func (k KeyColumns) Validate() error {
	if k.Top == "" || k.Second == "" {
		return errors.New("both partition key columns are required")
	}
	if k.Top == k.Second {
		return fmt.Errorf("partition key columns must be distinct, got %q twice", k.Top)
	}
	return nil
}

// Grouping is the physical outer/inner column pair an order resolves to.
type Grouping struct {
	Outer string `json:"outer"`
	Inner string `json:"inner"`
}

// Grouping resolves the order against a dataset's key columns.
func (o Order) Grouping(keys KeyColumns) Grouping {
	if o == SecondTop {
		return Grouping{Outer: keys.Second, Inner: keys.Top}
	}
	return Grouping{Outer: keys.Top, Inner: keys.Second}
}

// Plan is the fixed three-stage reduction:
//
//  1. group by (Outer, Inner), count distinct Count -> A
//  2. group A by Outer, max(count) -> B
//  3. min over B -> scalar
//
// Only the physical columns vary between plans; the stage structure never does.
type Plan struct {
	Outer string
	Inner string
	Count string
}

// NewPlan builds the plan for a grouping and count column.
func NewPlan(g Grouping, countCol string) (Plan, error) {
	if g.Outer == "" || g.Inner == "" || countCol == "" {
		return Plan{}, errors.New("grouping and count columns are required")
	}
	if g.Outer == g.Inner {
		return Plan{}, fmt.Errorf("grouping columns must be distinct, got %q twice", g.Outer)
	}
	return Plan{Outer: g.Outer, Inner: g.Inner, Count: countCol}, nil
}

// Columns returns the columns the plan reads.
func (p Plan) Columns() []string {
	return []string{p.Outer, p.Inner, p.Count}
}

// RenderSQL renders the plan against a relation expression. The statement
// returns two BIGINT columns: the scalar (NULL or 0 when empty, depending on
// the engine) and the number of outer groups, which is zero when any
// intermediate grouping was empty.
func RenderSQL(p Plan, relation string) string {
	outer := quoteIdent(p.Outer)
	inner := quoteIdent(p.Inner)
	count := quoteIdent(p.Count)

	var b strings.Builder
	b.WriteString("SELECT CAST(min(b.max_cnt) AS BIGINT) AS min_max_count, CAST(count(*) AS BIGINT) AS group_count FROM (")
	b.WriteString("SELECT a.")
	b.WriteString(outer)
	b.WriteString(", max(a.cnt) AS max_cnt FROM (")
	fmt.Fprintf(&b, "SELECT %s, %s, count(DISTINCT %s) AS cnt FROM %s GROUP BY %s, %s",
		outer, inner, count, relation, outer, inner)
	b.WriteString(") AS a GROUP BY a.")
	b.WriteString(outer)
	b.WriteString(") AS b")
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
