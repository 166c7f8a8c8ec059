package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestRecordIDString(t *testing.T) {
	tests := []struct {
		name    string
		id      surrealmodels.RecordID
		want    string
		wantErr bool
	}{
		{"string key", surrealmodels.NewRecordID("scenario", "6f1d3a2e"), "6f1d3a2e", false},
		{"numeric key", surrealmodels.NewRecordID("scenario", 42), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordIDString(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
