package perf

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memdb"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func TestLedgerJobThroughputAndReliability(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	cash := db.AddAccount(accounting.Account{BranchID: 1, Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset}).ID
	revenue := db.AddAccount(accounting.Account{BranchID: 1, Code: "4000", Name: "Revenue", Type: accounting.AccountTypeRevenue}).ID
	svc := accounting.NewService(db.Ledger(), periods.NewService(&periods.MemoryRepository{}, true), nil, nil)

	amount := decimal.RequireFromString("12.50")
	for i := 0; i < 200; i++ {
		_, err := svc.CreateAndPost(ctx, accounting.EntryHeader{BranchID: 1}, []accounting.LineInput{
			accounting.Debit(cash, amount, "cash"),
			accounting.Credit(revenue, amount, "revenue"),
		}, 1)
		if err != nil {
			t.Fatalf("post entry %d: %v", i, err)
		}
	}

	for i := 0; i < 50; i++ {
		product := db.AddProduct(inventory.Product{})
		db.AddBatch(inventory.Batch{
			ProductID:   product.ID,
			WarehouseID: 1,
			BranchID:    1,
			BatchNumber: fmt.Sprintf("LOT-%d", i),
			Quantity:    decimal.RequireFromString("0.00005"),
			UnitCost:    decimal.NewFromInt(10),
		})
	}
	engine := inventory.NewEngine(inventory.EngineConfig{
		Repo:     db.Inventory(),
		Products: db,
		Settings: inventory.StaticSettings{Method: inventory.CostingFIFO},
	})

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	integrity := jobs.NewGLIntegrityJob(db.Ledger(), nil, metrics)
	for i := 0; i < 20; i++ {
		report, err := integrity.Run(ctx)
		if err != nil {
			t.Fatalf("integrity run: %v", err)
		}
		if !report.Clean() {
			t.Fatalf("unexpected findings: %+v", report)
		}
	}

	reset, err := jobs.NewZeroStockSweepJob(engine, nil, metrics).Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reset != 50 {
		t.Fatalf("expected 50 resets, got %d", reset)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "ledger_jobs_total", map[string]string{"job": jobs.TaskGLIntegrity, "status": "success"})
	if success != 20 {
		t.Fatalf("expected 20 integrity runs, got %f", success)
	}

	integrityDuration := histogramMean(t, families, "ledger_job_duration_seconds", map[string]string{"job": jobs.TaskGLIntegrity})
	if integrityDuration > 0.5 {
		t.Fatalf("integrity scan duration above budget: %f", integrityDuration)
	}

	sweepDuration := histogramMean(t, families, "ledger_job_duration_seconds", map[string]string{"job": jobs.TaskZeroStockSweep})
	if sweepDuration > 2.0 {
		t.Fatalf("zero stock sweep duration above budget: %f", sweepDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for key, val := range labels {
		if v, ok := got[key]; !ok || v != val {
			return false
		}
	}
	return true
}
