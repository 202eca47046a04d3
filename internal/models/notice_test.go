package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoticeKey(t *testing.T) {
	assert.Equal(t, "deal-1-001|DEBT_COLLECTION|debt_collection|2025-01-14",
		NoticeKey("deal-1-001", "deal-1", "client-1", ReasonDebtCollection, TemplateDebtCollection, day("2025-01-14")))

	a := NoticeKey("", "", "client-A", ReasonDebtCollection, TemplateDebtCollection, day("2025-01-14"))
	b := NoticeKey("", "", "client-B", ReasonDebtCollection, TemplateDebtCollection, day("2025-01-14"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, "/client-A|DEBT_COLLECTION|debt_collection|2025-01-14", a)
	assert.Equal(t, "deal-1/client-A|DEBT_COLLECTION|debt_collection|2025-01-14",
		NoticeKey("", "deal-1", "client-A", ReasonDebtCollection, TemplateDebtCollection, day("2025-01-14")))
}
