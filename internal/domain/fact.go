package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FactRow is one line of the fact table.
// Unique on (UploadBatchID, ProjectKey, AccountKey, PeriodKey, ResourceKey).
type FactRow struct {
	ProjectKey     int64
	ClientKey      int64
	AccountKey     int64
	PeriodKey      int64
	ResourceKey    int64
	Amount         decimal.Decimal
	Nature         Nature
	UploadBatchID  string
	SourceFileName string
	RowHash        string
	RowNumber      int
	InsertedAt     time.Time
}

// FactKey is the uniqueness tuple of a fact row.
type FactKey struct {
	UploadBatchID string
	ProjectKey    int64
	AccountKey    int64
	PeriodKey     int64
	ResourceKey   int64
}

// Key returns the row's uniqueness tuple.
func (f FactRow) Key() FactKey {
	return FactKey{
		UploadBatchID: f.UploadBatchID,
		ProjectKey:    f.ProjectKey,
		AccountKey:    f.AccountKey,
		PeriodKey:     f.PeriodKey,
		ResourceKey:   f.ResourceKey,
	}
}

// RowHash fingerprints the source values of a record: first 32 hex chars of SHA-256.
func RowHash(r *FinancialRecord) string {
	payload := struct {
		Project      string `json:"projeto"`
		Client       string `json:"cliente"`
		Account      string `json:"conta_resumo"`
		AccountDesc  string `json:"denominacao_conta"`
		Period       string `json:"periodo"`
		Amount       string `json:"lancamento"`
		ResourceID   string `json:"id_recurso"`
		ResourceName string `json:"nome_recurso"`
	}{
		Project:      r.ProjectCode,
		Client:       r.ClientName,
		Account:      r.AccountCode,
		AccountDesc:  r.AccountDescription,
		Period:       r.PeriodLabel,
		Amount:       r.Amount.String(),
		ResourceID:   r.ResourceID,
		ResourceName: r.ResourceName,
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:32]
}
