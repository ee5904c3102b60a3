package repository

import (
	"sort"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
)

// sortRecords puts records without a timestamp first, then newest first. Ties break on
// id so repeated snapshots of the same data come out in the same order.
func sortRecords(recs []domain.RemoteRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, iok := recs[i].Fields[domain.FieldTimestamp].(time.Time)
		tj, jok := recs[j].Fields[domain.FieldTimestamp].(time.Time)
		if iok != jok {
			return !iok
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].ID > recs[j].ID
	})
}
