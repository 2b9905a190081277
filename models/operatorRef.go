package models

import "context"

// Magic operator ids carried over from legacy exports. 999 marks a record the
// customer handled themselves, 999999 a manual entry keyed in by an admin.
const (
	OperatorIdSelf        = 999
	OperatorIdAdminManual = 999999
)

type OperatorRefKind string

const (
	OperatorRefNone        OperatorRefKind = "none"
	OperatorRefNamed       OperatorRefKind = "named"
	OperatorRefSelf        OperatorRefKind = "self"
	OperatorRefAdminManual OperatorRefKind = "admin_manual"
)

// OperatorRef is the decoded form of daily_records.operator_id. The raw
// column keeps the magic values so legacy rows stay readable; callers decode
// once at the store boundary and switch on Kind.
type OperatorRef struct {
	Kind       OperatorRefKind `json:"kind"`
	OperatorID int             `json:"operator_id,omitempty"`
}

func DecodeOperatorRef(operatorId *int) OperatorRef {
	if operatorId == nil || *operatorId == 0 {
		return OperatorRef{Kind: OperatorRefNone}
	}
	switch *operatorId {
	case OperatorIdSelf:
		return OperatorRef{Kind: OperatorRefSelf}
	case OperatorIdAdminManual:
		return OperatorRef{Kind: OperatorRefAdminManual}
	default:
		return OperatorRef{Kind: OperatorRefNamed, OperatorID: *operatorId}
	}
}

// EncodeOperatorRef is the inverse of DecodeOperatorRef. None encodes as nil
// so the column stays NULL for untouched records.
func (ref OperatorRef) Encode() *int {
	switch ref.Kind {
	case OperatorRefSelf:
		id := OperatorIdSelf
		return &id
	case OperatorRefAdminManual:
		id := OperatorIdAdminManual
		return &id
	case OperatorRefNamed:
		id := ref.OperatorID
		return &id
	default:
		return nil
	}
}

// DisplayName renders the reference for record listings.
func (ref OperatorRef) DisplayName(ctx context.Context) string {
	switch ref.Kind {
	case OperatorRefSelf:
		return "自己"
	case OperatorRefAdminManual:
		return "管理员"
	case OperatorRefNamed:
		operator, err := GetOperator(ctx, ref.OperatorID)
		if err != nil {
			return "未知操作员"
		}
		return operator.Name
	default:
		return ""
	}
}
