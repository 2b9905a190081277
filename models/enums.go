package models

// UserRole separates the admin console from the customer view.
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleCustomer UserRole = "customer"
)

func (r UserRole) Valid() bool {
	return r == UserRoleAdmin || r == UserRoleCustomer
}

// RecordStatus tracks whether a flow record has been worked ("done") or is
// still queued ("pending").
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "pending"
	RecordStatusDone    RecordStatus = "done"
)

func (s RecordStatus) Valid() bool {
	return s == RecordStatusPending || s == RecordStatusDone
}

// SheetLayout classifies an uploaded workbook.
// Layout A: headerless, data starts on the first row.
// Layout B: titled, header on the second row, title row carries the date
// range and customer name.
type SheetLayout string

const (
	SheetLayoutA SheetLayout = "A"
	SheetLayoutB SheetLayout = "B"
)

// History action types.
const (
	ActionExcelImport      = "EXCEL_IMPORT"
	ActionExcelImportError = "EXCEL_IMPORT_ERROR"
	ActionAddTarget        = "ADD_TARGET"
	ActionEditTarget       = "EDIT_TARGET"
	ActionDeleteTarget     = "DELETE_TARGET"
	ActionAddRecord        = "ADD_RECORD"
	ActionUpdateRecord     = "UPDATE_RECORD"
	ActionAddCustomer      = "ADD_CUSTOMER"
	ActionDeleteUser       = "DELETE_USER"
	ActionResetPassword    = "RESET_PASSWORD"
)
