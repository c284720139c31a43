// Package repository provides typed access to the site's domain tables and
// sync bookkeeping (changelog, key/value store).
//
// Every domain row implements Row so the integration layer can upsert and
// delete rows of any table through one code path. Writes issued through
// Upsert and Delete append a changelog entry only when they changed the
// stored data, which keeps re-integration of the same batch a no-op.
package repository

// Local table names.
const (
	TableUnit        = "unit"
	TableItem        = "item"
	TableBarcode     = "barcode"
	TableName        = "name"
	TableStore       = "store"
	TableLocation    = "location"
	TableStockLine   = "stock_line"
	TableInvoice     = "invoice"
	TableInvoiceLine = "invoice_line"
)

// Row is a domain row addressable by primary key.
//
// Columns and Values list the non-key columns in the same order. Fields
// returns scan destinations for id followed by Columns.
type Row interface {
	Table() string
	RowID() string
	Columns() []string
	Values() []any
	Fields() []any
}

// RowKey identifies a row for deletion.
type RowKey struct {
	Table string
	ID    string
}

// ItemType classifies items.
type ItemType string

const (
	ItemTypeStock    ItemType = "stock"
	ItemTypeService  ItemType = "service"
	ItemTypeNonStock ItemType = "non_stock"
)

// InvoiceType classifies invoices.
type InvoiceType string

const (
	InvoiceTypeOutbound InvoiceType = "outbound"
	InvoiceTypeInbound  InvoiceType = "inbound"
)

type Unit struct {
	ID          string
	Name        string
	Description *string
	SortIndex   int64
}

func (u *Unit) Table() string     { return TableUnit }
func (u *Unit) RowID() string     { return u.ID }
func (u *Unit) Columns() []string { return []string{"name", "description", "sort_index"} }
func (u *Unit) Values() []any     { return []any{u.Name, u.Description, u.SortIndex} }
func (u *Unit) Fields() []any     { return []any{&u.ID, &u.Name, &u.Description, &u.SortIndex} }

type Item struct {
	ID              string
	Name            string
	Code            string
	UnitID          *string
	DefaultPackSize float64
	Type            ItemType
}

func (i *Item) Table() string { return TableItem }
func (i *Item) RowID() string { return i.ID }
func (i *Item) Columns() []string {
	return []string{"name", "code", "unit_id", "default_pack_size", "type"}
}
func (i *Item) Values() []any {
	return []any{i.Name, i.Code, i.UnitID, i.DefaultPackSize, string(i.Type)}
}
func (i *Item) Fields() []any {
	return []any{&i.ID, &i.Name, &i.Code, &i.UnitID, &i.DefaultPackSize, (*string)(&i.Type)}
}

type Barcode struct {
	ID       string
	GTIN     string
	ItemID   string
	PackSize *float64
}

func (b *Barcode) Table() string     { return TableBarcode }
func (b *Barcode) RowID() string     { return b.ID }
func (b *Barcode) Columns() []string { return []string{"gtin", "item_id", "pack_size"} }
func (b *Barcode) Values() []any     { return []any{b.GTIN, b.ItemID, b.PackSize} }
func (b *Barcode) Fields() []any     { return []any{&b.ID, &b.GTIN, &b.ItemID, &b.PackSize} }

// Name is a customer, supplier, or other trading party.
type Name struct {
	ID         string
	Name       string
	Code       string
	Type       string
	IsCustomer bool
	IsSupplier bool
}

func (n *Name) Table() string { return TableName }
func (n *Name) RowID() string { return n.ID }
func (n *Name) Columns() []string {
	return []string{"name", "code", "type", "is_customer", "is_supplier"}
}
func (n *Name) Values() []any {
	return []any{n.Name, n.Code, n.Type, n.IsCustomer, n.IsSupplier}
}
func (n *Name) Fields() []any {
	return []any{&n.ID, &n.Name, &n.Code, &n.Type, &n.IsCustomer, &n.IsSupplier}
}

type Store struct {
	ID     string
	NameID string
	Code   string
	SiteID int32
}

func (s *Store) Table() string     { return TableStore }
func (s *Store) RowID() string     { return s.ID }
func (s *Store) Columns() []string { return []string{"name_id", "code", "site_id"} }
func (s *Store) Values() []any     { return []any{s.NameID, s.Code, s.SiteID} }
func (s *Store) Fields() []any     { return []any{&s.ID, &s.NameID, &s.Code, &s.SiteID} }

type Location struct {
	ID      string
	Name    string
	Code    string
	StoreID string
	OnHold  bool
}

func (l *Location) Table() string     { return TableLocation }
func (l *Location) RowID() string     { return l.ID }
func (l *Location) Columns() []string { return []string{"name", "code", "store_id", "on_hold"} }
func (l *Location) Values() []any     { return []any{l.Name, l.Code, l.StoreID, l.OnHold} }
func (l *Location) Fields() []any {
	return []any{&l.ID, &l.Name, &l.Code, &l.StoreID, &l.OnHold}
}

// StockLine is a batch of one item held in one store.
type StockLine struct {
	ID                     string
	ItemID                 string
	StoreID                string
	LocationID             *string
	Batch                  *string
	PackSize               float64
	AvailableNumberOfPacks float64
	TotalNumberOfPacks     float64
	// ExpiryDate is YYYY-MM-DD.
	ExpiryDate *string
}

func (s *StockLine) Table() string { return TableStockLine }
func (s *StockLine) RowID() string { return s.ID }
func (s *StockLine) Columns() []string {
	return []string{"item_id", "store_id", "location_id", "batch", "pack_size",
		"available_number_of_packs", "total_number_of_packs", "expiry_date"}
}
func (s *StockLine) Values() []any {
	return []any{s.ItemID, s.StoreID, s.LocationID, s.Batch, s.PackSize,
		s.AvailableNumberOfPacks, s.TotalNumberOfPacks, s.ExpiryDate}
}
func (s *StockLine) Fields() []any {
	return []any{&s.ID, &s.ItemID, &s.StoreID, &s.LocationID, &s.Batch, &s.PackSize,
		&s.AvailableNumberOfPacks, &s.TotalNumberOfPacks, &s.ExpiryDate}
}

type Invoice struct {
	ID            string
	NameID        string
	StoreID       string
	InvoiceNumber int64
	Type          InvoiceType
	Status        string
	// CreatedDatetime is RFC3339.
	CreatedDatetime string
	Comment         *string
}

func (i *Invoice) Table() string { return TableInvoice }
func (i *Invoice) RowID() string { return i.ID }
func (i *Invoice) Columns() []string {
	return []string{"name_id", "store_id", "invoice_number", "type", "status", "created_datetime", "comment"}
}
func (i *Invoice) Values() []any {
	return []any{i.NameID, i.StoreID, i.InvoiceNumber, string(i.Type), i.Status, i.CreatedDatetime, i.Comment}
}
func (i *Invoice) Fields() []any {
	return []any{&i.ID, &i.NameID, &i.StoreID, &i.InvoiceNumber, (*string)(&i.Type),
		&i.Status, &i.CreatedDatetime, &i.Comment}
}

// InvoiceLine carries a denormalised copy of the item's name and code as they
// were when the line was written.
type InvoiceLine struct {
	ID            string
	InvoiceID     string
	ItemID        string
	ItemName      string
	ItemCode      string
	StockLineID   *string
	Batch         *string
	PackSize      float64
	NumberOfPacks float64
}

func (l *InvoiceLine) Table() string { return TableInvoiceLine }
func (l *InvoiceLine) RowID() string { return l.ID }
func (l *InvoiceLine) Columns() []string {
	return []string{"invoice_id", "item_id", "item_name", "item_code", "stock_line_id",
		"batch", "pack_size", "number_of_packs"}
}
func (l *InvoiceLine) Values() []any {
	return []any{l.InvoiceID, l.ItemID, l.ItemName, l.ItemCode, l.StockLineID,
		l.Batch, l.PackSize, l.NumberOfPacks}
}
func (l *InvoiceLine) Fields() []any {
	return []any{&l.ID, &l.InvoiceID, &l.ItemID, &l.ItemName, &l.ItemCode, &l.StockLineID,
		&l.Batch, &l.PackSize, &l.NumberOfPacks}
}

var (
	_ Row = (*Unit)(nil)
	_ Row = (*Item)(nil)
	_ Row = (*Barcode)(nil)
	_ Row = (*Name)(nil)
	_ Row = (*Store)(nil)
	_ Row = (*Location)(nil)
	_ Row = (*StockLine)(nil)
	_ Row = (*Invoice)(nil)
	_ Row = (*InvoiceLine)(nil)
)
