package assistant

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"studyreader/pkg/domain"
)

// Offline content. Tables are scanned in order and the first entry with a
// keyword present as a word (plain or with an s/es plural) in the
// lowercased input wins, so order is significant.

const excerptRunes = 60

type topic[T any] struct {
	keywords []string
	value    T
}

func (t topic[T]) matches(lower string) bool {
	for _, k := range t.keywords {
		if containsWord(lower, k) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in s bounded by non-word
// characters. A trailing "s" or "es" still counts as the same word.
func containsWord(s, word string) bool {
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if !wordCharBefore(s, start) && wordEnds(s[end:]) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordEnds(rest string) bool {
	for _, suffix := range []string{"", "s", "es"} {
		if strings.HasPrefix(rest, suffix) && !wordCharAt(rest[len(suffix):]) {
			return true
		}
	}
	return false
}

func wordCharBefore(s string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return i > 0 && isWordRune(r)
}

func wordCharAt(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return s != "" && isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lookup[T any](table []topic[T], text string) (T, bool) {
	lower := strings.ToLower(text)
	for _, t := range table {
		if t.matches(lower) {
			return t.value, true
		}
	}
	var zero T
	return zero, false
}

// excerpt is the trimmed text cut to 60 runes with an ellipsis.
func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	return string([]rune(text)[:excerptRunes]) + "..."
}

var explanations = []topic[string]{
	{[]string{"derivative"}, "A derivative measures how fast a function changes as its input changes. Geometrically it is the slope of the tangent line at a point. For power functions the power rule applies: the derivative of x^n is n*x^(n-1), so the derivative of x^2 is 2x."},
	{[]string{"integral"}, "An integral accumulates a quantity over an interval. The definite integral of f from a to b is the signed area under the curve of f between a and b. By the fundamental theorem of calculus, integration reverses differentiation."},
	{[]string{"limit"}, "A limit describes the value a function approaches as its input approaches some point. Limits make continuity and derivatives precise, even where the function itself is undefined."},
	{[]string{"photosynthesis", "chlorophyll"}, "Photosynthesis is how plants, algae and some bacteria turn light energy into chemical energy. In the chloroplasts, carbon dioxide and water are combined into glucose, and oxygen is released as a by-product."},
	{[]string{"mitochondria", "cellular respiration"}, "Mitochondria are the organelles where cellular respiration happens. They break down glucose with oxygen to produce ATP, the molecule cells use as their energy currency."},
	{[]string{"dna", "gene", "genetic", "genome"}, "DNA is the molecule that stores genetic information. Its sequence of bases encodes genes, which cells transcribe into RNA and translate into proteins."},
	{[]string{"newton", "force"}, "Newton's laws relate force and motion. An object keeps its velocity unless a net force acts on it, the net force equals mass times acceleration (F = ma), and every action has an equal and opposite reaction."},
	{[]string{"energy"}, "Energy is the capacity to do work. It takes forms such as kinetic and potential energy and is conserved: it changes form but the total in a closed system stays constant."},
	{[]string{"atom", "atomic", "molecule", "molecular"}, "Atoms are the basic units of matter, made of a nucleus of protons and neutrons surrounded by electrons. Atoms bond together to form molecules."},
	{[]string{"supply", "demand"}, "Supply and demand describe how prices form in a market. When demand rises or supply falls, prices tend to rise; the market settles where the quantity supplied equals the quantity demanded."},
}

func fallbackExplanation(text string) string {
	if out, ok := lookup(explanations, text); ok {
		return out
	}
	return fmt.Sprintf("This passage is about \"%s\". Identify the key terms it uses, restate its main point in your own words, and relate it to the section around it to see how it supports the larger argument.", excerpt(text))
}

var solutionSteps = struct {
	derivative, integral, algebra, physics, chemistry, generic string
}{
	derivative: "Step 1: Identify the function and the variable you are differentiating with respect to.\nStep 2: Choose the rule that fits: power, product, quotient or chain rule.\nStep 3: Apply the rule term by term.\nStep 4: Simplify the result.\nStep 5: Check the answer by testing a point or reasoning about the slope.",
	integral:   "Step 1: Identify the integrand and the limits of integration, if any.\nStep 2: Look for a known antiderivative or a substitution that simplifies the integrand.\nStep 3: Integrate term by term and add the constant of integration for indefinite integrals.\nStep 4: For definite integrals, evaluate at the upper and lower limits and subtract.\nStep 5: Check by differentiating the result.",
	algebra:    "Step 1: Write down what is given and what you need to find.\nStep 2: Simplify both sides by expanding and combining like terms.\nStep 3: Isolate the unknown with inverse operations, doing the same to both sides.\nStep 4: Solve for the unknown.\nStep 5: Substitute the answer back into the original equation to verify it.",
	physics:    "Step 1: List the known quantities with their units and the quantity you need.\nStep 2: Draw a diagram and mark the forces or motion involved.\nStep 3: Pick the governing law or equation, such as F = ma or conservation of energy.\nStep 4: Solve the equation symbolically, then substitute the numbers.\nStep 5: Check that the units and the size of the answer make sense.",
	chemistry:  "Step 1: Write the balanced chemical equation.\nStep 2: Convert the given quantities to moles.\nStep 3: Use the mole ratio from the equation to relate reactants and products.\nStep 4: Convert the result back to the requested units.\nStep 5: Check significant figures and whether the answer is reasonable.",
	generic:    "Step 1: Read the problem carefully and restate it in your own words.\nStep 2: Identify what is given and what is asked.\nStep 3: Choose a method or principle that connects them.\nStep 4: Work through the method one step at a time.\nStep 5: Review the answer against the original question.",
}

var (
	problemKeywords   = []string{"solve", "find", "calculate", "compute", "evaluate", "simplify", "="}
	physicsKeywords   = []string{"force", "velocity", "acceleration", "momentum", "mass", "energy", "newton"}
	chemistryKeywords = []string{"mole", "molar", "reaction", "compound", "equilibrium", "stoichiometry"}
)

func hasAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func hasMath(s string) bool {
	return strings.ContainsAny(s, "0123456789+-*/^=")
}

func fallbackSolution(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "derivative") || strings.Contains(lower, "d/dx"):
		return solutionSteps.derivative
	case strings.Contains(lower, "integral") || strings.Contains(text, "∫"):
		return solutionSteps.integral
	case hasMath(lower) && hasAny(lower, problemKeywords):
		return solutionSteps.algebra
	case hasAny(lower, physicsKeywords):
		return solutionSteps.physics
	case hasAny(lower, chemistryKeywords):
		return solutionSteps.chemistry
	default:
		return solutionSteps.generic
	}
}

// Biology precedes everything mentioning equations so that
// "photosynthesis equation" yields the biology set.
var flashcardSets = []topic[[]domain.Card]{
	{[]string{"photosynthesis", "chlorophyll", "chloroplast"}, []domain.Card{
		{Front: "What is photosynthesis?", Back: "The process by which plants use light energy to turn carbon dioxide and water into glucose and oxygen."},
		{Front: "Where does photosynthesis take place?", Back: "In the chloroplasts, which contain the pigment chlorophyll."},
		{Front: "What is the overall equation for photosynthesis?", Back: "6CO2 + 6H2O + light energy -> C6H12O6 + 6O2"},
	}},
	{[]string{"mitochondria", "cell", "cellular"}, []domain.Card{
		{Front: "What do mitochondria do?", Back: "They carry out cellular respiration and produce ATP."},
		{Front: "What is ATP?", Back: "Adenosine triphosphate, the molecule cells use to store and transfer energy."},
		{Front: "What are the products of cellular respiration?", Back: "Carbon dioxide, water and ATP."},
	}},
	{[]string{"derivative", "integral", "calculus", "limit"}, []domain.Card{
		{Front: "What does a derivative measure?", Back: "The instantaneous rate of change of a function, the slope of its tangent line."},
		{Front: "What is the power rule?", Back: "The derivative of x^n is n*x^(n-1)."},
		{Front: "What does a definite integral represent?", Back: "The signed area under a curve between two limits."},
	}},
	{[]string{"newton", "force", "velocity", "acceleration"}, []domain.Card{
		{Front: "State Newton's first law.", Back: "An object keeps its state of motion unless a net force acts on it."},
		{Front: "State Newton's second law.", Back: "Net force equals mass times acceleration, F = ma."},
		{Front: "State Newton's third law.", Back: "Every action has an equal and opposite reaction."},
	}},
	{[]string{"atom", "atomic", "molecule", "molecular", "reaction", "element"}, []domain.Card{
		{Front: "What is an atom made of?", Back: "A nucleus of protons and neutrons surrounded by electrons."},
		{Front: "What is a molecule?", Back: "Two or more atoms held together by chemical bonds."},
		{Front: "What does a balanced chemical equation show?", Back: "That atoms are conserved: each element appears in equal numbers on both sides."},
	}},
	{[]string{"equation", "variable", "algebra"}, []domain.Card{
		{Front: "What is a variable?", Back: "A symbol that stands for an unknown or changing value."},
		{Front: "How do you solve a linear equation?", Back: "Apply the same inverse operations to both sides until the variable is isolated."},
		{Front: "How do you check a solution?", Back: "Substitute it back into the original equation and confirm both sides are equal."},
	}},
}

func fallbackFlashcards(text string) []domain.Card {
	if set, ok := lookup(flashcardSets, text); ok {
		return append([]domain.Card(nil), set...)
	}
	e := excerpt(text)
	return []domain.Card{
		{Front: fmt.Sprintf("What is the main idea of \"%s\"?", e), Back: "Summarize the passage in one sentence using its key terms."},
		{Front: fmt.Sprintf("Which key terms appear in \"%s\"?", e), Back: "List each term and define it in your own words."},
		{Front: fmt.Sprintf("How does \"%s\" connect to the rest of the chapter?", e), Back: "Explain how the passage supports or extends the surrounding material."},
	}
}

var quizSets = []topic[[]domain.QuizQuestion]{
	{[]string{"photosynthesis", "chlorophyll", "chloroplast"}, []domain.QuizQuestion{
		{Q: "Which gas do plants absorb during photosynthesis?", A: "Carbon dioxide."},
		{Q: "Which pigment captures light energy?", A: "Chlorophyll."},
		{Q: "What sugar is produced by photosynthesis?", A: "Glucose."},
	}},
	{[]string{"mitochondria", "cell", "cellular"}, []domain.QuizQuestion{
		{Q: "Which organelle produces most of a cell's ATP?", A: "The mitochondrion."},
		{Q: "What process releases energy from glucose?", A: "Cellular respiration."},
		{Q: "Which gas is required for aerobic respiration?", A: "Oxygen."},
	}},
	{[]string{"derivative", "integral", "calculus", "limit"}, []domain.QuizQuestion{
		{Q: "What is the derivative of x^2?", A: "2x."},
		{Q: "What is the derivative of a constant?", A: "0."},
		{Q: "What is the integral of 2x dx?", A: "x^2 + C."},
	}},
	{[]string{"newton", "force", "velocity", "acceleration"}, []domain.QuizQuestion{
		{Q: "What is the formula for Newton's second law?", A: "F = ma."},
		{Q: "What is the SI unit of force?", A: "The newton (N)."},
		{Q: "What happens to an object with no net force acting on it?", A: "It keeps a constant velocity."},
	}},
	{[]string{"atom", "atomic", "molecule", "molecular", "reaction", "element"}, []domain.QuizQuestion{
		{Q: "Which particle has a negative charge?", A: "The electron."},
		{Q: "What is found in the nucleus of an atom?", A: "Protons and neutrons."},
		{Q: "What is the chemical formula for water?", A: "H2O."},
	}},
}

func fallbackQuiz(text string) []domain.QuizQuestion {
	if set, ok := lookup(quizSets, text); ok {
		return append([]domain.QuizQuestion(nil), set...)
	}
	e := excerpt(text)
	return []domain.QuizQuestion{
		{Q: fmt.Sprintf("What is the central point of \"%s\"?", e), A: "State the main claim of the passage in your own words."},
		{Q: fmt.Sprintf("What evidence or example supports \"%s\"?", e), A: "Point to the detail in the text that backs up the claim."},
		{Q: fmt.Sprintf("Why does \"%s\" matter for this topic?", e), A: "Explain how the idea connects to the chapter's larger theme."},
	}
}
