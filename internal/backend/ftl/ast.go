package ftl

// position is a 1-based line and column in the template source.
type position struct {
	line int
	col  int
}

type node interface {
	where() position
}

type textNode struct {
	pos  position
	text string
}

// interpNode is a ${...}, #{...} or [=...] interpolation.
type interpNode struct {
	pos     position
	raw     string
	expr    *expression
	numeric bool
	minFrac int
	maxFrac int
}

type ifBranch struct {
	// cond is nil for the #else branch.
	cond *expression
	body []node
}

type ifNode struct {
	pos      position
	branches []ifBranch
}

// rangeSource is a lazily iterated numeric range: from..to, from..<to, or the
// open-ended from.. .
type rangeSource struct {
	from      *expression
	to        *expression
	exclusive bool
}

type listNode struct {
	pos      position
	raw      string
	seq      *expression
	rng      *rangeSource
	vars     []string
	body     []node
	elseBody []node
}

type assignNode struct {
	pos   position
	name  string
	value *expression
}

type breakNode struct {
	pos position
}

type stopNode struct {
	pos position
	msg *expression
}

func (n *textNode) where() position { return n.pos }
func (n *interpNode) where() position { return n.pos }
func (n *ifNode) where() position { return n.pos }
func (n *listNode) where() position { return n.pos }
func (n *assignNode) where() position { return n.pos }
func (n *breakNode) where() position { return n.pos }
func (n *stopNode) where() position { return n.pos }
