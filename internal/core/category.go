package core

// Category identifies the accounting rule bound to a chat topic. The set is
// closed; thread-to-category binding lives in configuration, not here.
type Category string

const (
	CategoryFood      Category = "food"
	CategoryFoodTopup Category = "food_topup"
	CategoryTopup     Category = "topup"
	CategoryApartment Category = "apart"
	CategoryOther     Category = "total_other"
)

// Target selects which of the two independent balances a rule touches.
type Target string

const (
	TargetGeneral Target = "general"
	TargetFood    Target = "food"
)

// Direction is the effect on the target balance. Its string form is the
// audit-log wire value.
type Direction string

const (
	Credit Direction = "in"  // balance increases
	Debit  Direction = "out" // balance decreases
)

// Opposite inverts a direction. Negative numerals flip the rule's default
// uniformly for every category.
func (d Direction) Opposite() Direction {
	if d == Credit {
		return Debit
	}
	return Credit
}

// Rule describes how entries in one category move money: which balance they
// touch and what a positive numeral means there.
type Rule struct {
	Target        Target
	PositiveMeans Direction
}

// RuleTable maps each known category to its rule.
type RuleTable map[Category]Rule

// NewRuleTable builds the rule set. foodSpendOnPositive selects the food
// topic convention: true means a positive numeral spends from the food
// budget (the usual deployment), false means it tops the budget up and the
// separate FoodTopup category is redundant.
func NewRuleTable(foodSpendOnPositive bool) RuleTable {
	foodDir := Debit
	if !foodSpendOnPositive {
		foodDir = Credit
	}
	return RuleTable{
		CategoryFood:      {Target: TargetFood, PositiveMeans: foodDir},
		CategoryFoodTopup: {Target: TargetFood, PositiveMeans: Credit},
		CategoryTopup:     {Target: TargetGeneral, PositiveMeans: Credit},
		CategoryApartment: {Target: TargetGeneral, PositiveMeans: Debit},
		CategoryOther:     {Target: TargetGeneral, PositiveMeans: Debit},
	}
}

// Rule resolves the rule for a category.
func (t RuleTable) Rule(c Category) (Rule, error) {
	r, ok := t[c]
	if !ok {
		return Rule{}, ErrUnknownCategory
	}
	return r, nil
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryFoodTopup, CategoryTopup, CategoryApartment, CategoryOther:
		return true
	}
	return false
}
