package model

// FactSource locates the log a fact was decoded from.
type FactSource struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
}

// Fact is a typed piece of information decoded from a receipt log. The set of
// implementations is closed: ProductRegistered, ProductStatusChanged, Unknown.
type Fact interface {
	Source() FactSource
	isFact()
}

// ProductRegistered is emitted by the contract's addProduct.
type ProductRegistered struct {
	Log      FactSource
	LedgerID uint64
	Name     string
	Origin   string
	Category string
	Owner    string
}

// ProductStatusChanged is emitted by the contract's updateProduct.
type ProductStatusChanged struct {
	Log      FactSource
	LedgerID uint64
	Status   string
	Owner    string
}

// Unknown is a log that did not decode into a known fact.
type Unknown struct {
	Log    FactSource
	Reason string
}

func (f ProductRegistered) Source() FactSource    { return f.Log }
func (f ProductStatusChanged) Source() FactSource { return f.Log }
func (f Unknown) Source() FactSource              { return f.Log }

func (ProductRegistered) isFact()    {}
func (ProductStatusChanged) isFact() {}
func (Unknown) isFact()              {}
