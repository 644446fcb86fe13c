package models

// ItemKind classifies inventory items.
type ItemKind string

const (
	ItemKindConsumable ItemKind = "C"
	ItemKindUtility    ItemKind = "U"
	ItemKindEquipment  ItemKind = "E"
)

// LedgerEntryType classifies stock ledger entries.
type LedgerEntryType string

const (
	LedgerEntryTypeReceipt     LedgerEntryType = "RC"
	LedgerEntryTypeUsage       LedgerEntryType = "US"
	LedgerEntryTypeAdjustment  LedgerEntryType = "AD"
	LedgerEntryTypeWaste       LedgerEntryType = "WS"
	LedgerEntryTypeTransferIn  LedgerEntryType = "TI"
	LedgerEntryTypeTransferOut LedgerEntryType = "TO"
	LedgerEntryTypeBreakage    LedgerEntryType = "BK"
)

// BatchStatus is the lifecycle of an expiry-dated batch.
// ACTIVE -> EXPIRING -> EXPIRED; DISPOSED is terminal and can be entered
// from any state (depletion or manual disposal).
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "ACTIVE"
	BatchStatusExpiring BatchStatus = "EXPIRING"
	BatchStatusExpired  BatchStatus = "EXPIRED"
	BatchStatusDisposed BatchStatus = "DISPOSED"
)

// DisposalMethod records how a disposed batch left the building.
type DisposalMethod string

const (
	DisposalMethodTrash          DisposalMethod = "TRASH"
	DisposalMethodCompost        DisposalMethod = "COMPOST"
	DisposalMethodDonation       DisposalMethod = "DONATION"
	DisposalMethodSupplierReturn DisposalMethod = "RETURN"
)

// StockReferenceType identifies the document a ledger entry points back to.
type StockReferenceType string

const (
	StockReferenceTypeOrder         StockReferenceType = "ORD"
	StockReferenceTypePurchaseOrder StockReferenceType = "PO"
	StockReferenceTypeTransfer      StockReferenceType = "TR"
	StockReferenceTypeAdjustment    StockReferenceType = "ADJ"
	StockReferenceTypeDisposal      StockReferenceType = "DSP"
	StockReferenceTypeOpeningStock  StockReferenceType = "OS"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)
