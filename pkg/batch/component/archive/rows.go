package archive

import (
	"fmt"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// BalanceRow is the Parquet layout of a BalanceRecord. Amounts keep their exact decimal text.
type BalanceRow struct {
	Generation       int64  `parquet:"name=generation,type=INT64"`
	RefreshedAt      int64  `parquet:"name=refreshed_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	NocsCode         string `parquet:"name=nocs_code,type=BYTE_ARRAY,convertedtype=UTF8"`
	AccountCount     int64  `parquet:"name=account_count,type=INT64"`
	CreditBalanceAmt string `parquet:"name=credit_balance_amt,type=BYTE_ARRAY,convertedtype=UTF8"`
	DueBalanceAmt    string `parquet:"name=due_balance_amt,type=BYTE_ARRAY,convertedtype=UTF8"`
	NetBalance       string `parquet:"name=net_balance,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// AnalysisRow is the Parquet layout of an AnalysisRecord.
type AnalysisRow struct {
	Generation            int64  `parquet:"name=generation,type=INT64"`
	RefreshedAt           int64  `parquet:"name=refreshed_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	AnalysisMonth         string `parquet:"name=analysis_month,type=BYTE_ARRAY,convertedtype=UTF8"`
	TotalCustomers        int64  `parquet:"name=total_customers,type=INT64"`
	ActiveBillingCount    int64  `parquet:"name=active_billing_count,type=INT64"`
	StoppedBillingCount   int64  `parquet:"name=stopped_billing_count,type=INT64"`
	StoppedOutstandingAmt string `parquet:"name=stopped_outstanding_amt,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// toRows converts the records of snap into Parquet rows and returns a prototype of the row
// type for schema reflection.
func toRows(snap *model.Snapshot) (prototype interface{}, rows []interface{}, err error) {
	gen := int64(snap.Generation)
	at := snap.RefreshedAt.UnixMilli()
	for _, rec := range snap.Payload.Records {
		switch r := rec.(type) {
		case model.BalanceRecord:
			prototype = new(BalanceRow)
			rows = append(rows, BalanceRow{
				Generation:       gen,
				RefreshedAt:      at,
				NocsCode:         r.NocsCode,
				AccountCount:     r.AccountCount,
				CreditBalanceAmt: r.CreditBalanceAmt.StringFixed(2),
				DueBalanceAmt:    r.DueBalanceAmt.StringFixed(2),
				NetBalance:       r.NetBalance.StringFixed(2),
			})
		case model.AnalysisRecord:
			prototype = new(AnalysisRow)
			rows = append(rows, AnalysisRow{
				Generation:            gen,
				RefreshedAt:           at,
				AnalysisMonth:         r.AnalysisMonth,
				TotalCustomers:        r.TotalCustomers,
				ActiveBillingCount:    r.ActiveBillingCount,
				StoppedBillingCount:   r.StoppedBillingCount,
				StoppedOutstandingAmt: r.StoppedOutstandingAmt.StringFixed(2),
			})
		default:
			return nil, nil, fmt.Errorf("record type %T cannot be archived", rec)
		}
	}
	return prototype, rows, nil
}
