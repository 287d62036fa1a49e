package constants

// Source tags where an order or product came from.
type Source string

const (
	SourceEmail  Source = "EMAIL"
	SourceManual Source = "MANUAL"
)

// DefaultCurrency is used when neither the receipt nor the config names one.
const DefaultCurrency = "USD"
