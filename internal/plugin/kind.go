package plugin

// Kind is the functional category of a plugin. Analyzers, connectors and
// visualizers run as sequential pipeline stages; pivots run opportunistically
// and never block stage advancement.
type Kind string

const (
	KindAnalyzer   Kind = "analyzer"
	KindConnector  Kind = "connector"
	KindPivot      Kind = "pivot"
	KindVisualizer Kind = "visualizer"
)

// IsValidKind checks whether the given kind is a supported enum value.
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindAnalyzer, KindConnector, KindPivot, KindVisualizer:
		return true
	default:
		return false
	}
}
