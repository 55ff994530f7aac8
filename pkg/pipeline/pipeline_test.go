package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/data-cleansing/pkg/bronze"
	"github.com/David-Botos/data-cleansing/pkg/cleaner"
	"github.com/David-Botos/data-cleansing/pkg/gold"
	"github.com/David-Botos/data-cleansing/pkg/masking"
	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/scd"
	"github.com/David-Botos/data-cleansing/pkg/silver"
)

const customersHeader = "Customer ID,Full Name,Email,Phone,NRIC,Address,Country,Gender\n"

var refreshTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type sinkCall struct {
	op    string
	table string
	rows  []*model.Record
	keys  []string
}

type fakeSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	failures []error // Returned, in order, before any call succeeds
}

func (s *fakeSink) record(op, table string, records []*model.Record, keys []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return 0, err
	}
	s.calls = append(s.calls, sinkCall{op: op, table: table, rows: records, keys: keys})
	return int64(len(records)), nil
}

func (s *fakeSink) Append(_ context.Context, table string, records []*model.Record, keys []string) (int64, error) {
	return s.record("append", table, records, keys)
}

func (s *fakeSink) Replace(_ context.Context, table string, records []*model.Record, keys []string) (int64, error) {
	return s.record("replace", table, records, keys)
}

func (s *fakeSink) callsFor(table string) []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkCall
	for _, c := range s.calls {
		if c.table == table {
			out = append(out, c)
		}
	}
	return out
}

type failingGrants struct{}

func (failingGrants) GrantsFor(context.Context, string) ([]model.AccessGrant, error) {
	return nil, errors.New("grant table unavailable")
}

// snapshotTable exposes the in-memory table through the bulk snapshot path
type snapshotTable struct {
	*scd.Table
	snapshots int
}

func (s *snapshotTable) Snapshot(_ context.Context, _ []string) (scd.State, error) {
	s.snapshots++
	return s.Table, nil
}

type PipelineSuite struct {
	suite.Suite
	dir        string
	checkpoint string
	versions   *scd.Table
	recorder   *cleaner.MemoryRecorder
	sink       *fakeSink
	grants     masking.GrantSource
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.checkpoint = filepath.Join(s.T().TempDir(), "checkpoint.json")
	s.versions = scd.NewTable()
	s.recorder = cleaner.NewMemoryRecorder()
	s.sink = &fakeSink{}
	s.grants = masking.StaticGrants(masking.DefaultGrants(time.Now().Add(-time.Hour)))
}

func (s *PipelineSuite) writeFile(name, body string) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (s *PipelineSuite) newPipeline(versions scd.Store) *Pipeline {
	logger := zaptest.NewLogger(s.T())

	checkpoint, err := bronze.LoadCheckpoint(s.checkpoint)
	s.Require().NoError(err)

	merger, err := scd.NewMerger(scd.CustomerConfig("customers", false), logger)
	s.Require().NoError(err)

	p, err := NewPipeline(Dependencies{
		Ingester:     bronze.NewIngester(nil, "raw", "customers", logger).WithTypeInference(false),
		Checkpoint:   checkpoint,
		SilverConfig: silver.StandardCustomerConfig("silver", "customers"),
		Merger:       merger,
		Versions:     versions,
		Gold:         gold.NewBuilder(masking.NewResolver(s.grants, logger), logger),
		Recorder:     s.recorder,
		Sink:         s.sink,
	}, Options{
		SourceDir:   s.dir,
		RawTable:    "customers_raw",
		SilverTable: "customers_silver",
		GoldTable:   "customers_gold",
		Workers:     2,
		MaxRetries:  2,
	}, logger)
	s.Require().NoError(err)
	return p
}

func (s *PipelineSuite) writeCustomerFiles() {
	s.writeFile("customers_1.csv", customersHeader+
		"C001,alice tan,alice@example.com,9123 4567,s1234567d,1 Main St Singapore 123456,singapore,f\n"+
		"C002,bob lim,bob@example.com,98765432,S7654321A,2 Side Rd Singapore 654321,SG,M\n")
	s.writeFile("customers_2.csv", customersHeader+
		"C001,alice tan,alice.tan@example.com,9123 4567,s1234567d,1 Main St Singapore 123456,singapore,f\n")
}

func (s *PipelineSuite) TestRefreshVersionsFilesInNameOrder() {
	s.writeCustomerFiles()
	p := s.newPipeline(s.versions)

	run := NewRunContext("scientist@company.com", refreshTime)
	result, err := p.Refresh(context.Background(), run)
	s.Require().NoError(err)

	s.Equal(2, result.FilesIngested)
	s.Equal(0, result.FilesFailed)
	s.Equal(3, result.BronzeRows)
	s.Equal(3, result.SilverRows)
	s.Equal(3, result.Inserted)
	s.Equal(1, result.Closed)
	s.Equal(0, result.IntegrityIssues)
	s.Equal(2, result.CurrentRows)

	history, err := s.versions.History(context.Background(), "C001")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(refreshTime, history[0].StartAt)
	s.Require().NotNil(history[0].EndAt)
	s.Equal(refreshTime.Add(time.Microsecond), *history[0].EndAt)
	s.Equal("alice.tan@example.com", history[1].Record.Value("email"))
	s.True(history[1].IsCurrent())
}

func (s *PipelineSuite) TestRefreshPublishesLayers() {
	s.writeCustomerFiles()
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("scientist@company.com", refreshTime))
	s.Require().NoError(err)

	raw := s.sink.callsFor("customers_raw")
	s.Require().Len(raw, 2)
	s.Equal("append", raw[0].op)

	silverCalls := s.sink.callsFor("customers_silver")
	s.Require().Len(silverCalls, 1)
	s.Equal("replace", silverCalls[0].op)
	s.Equal([]string{"customer_id", scd.StartColumn}, silverCalls[0].keys)
	s.Len(silverCalls[0].rows, 2)
	s.True(silverCalls[0].rows[0].Has(scd.EndColumn))

	goldCalls := s.sink.callsFor("customers_gold")
	s.Require().Len(goldCalls, 1)
	s.Equal([]string{"customer_id"}, goldCalls[0].keys)
	s.Require().Len(goldCalls[0].rows, 2)

	alice := goldCalls[0].rows[0]
	s.Equal("C001", alice.Value("customer_id"))
	s.Equal("a***@example.com", alice.Value("email"))
	s.Equal("scientist@company.com", alice.Value(gold.MaskedForUserColumn))
	s.Equal(model.AccessPartial, result.AccessLevel)
	s.False(result.Fallback)
	s.Equal(2, result.GoldRows)
}

func (s *PipelineSuite) TestRefreshRecordsCleaningOperations() {
	s.writeCustomerFiles()
	p := s.newPipeline(s.versions)

	run := NewRunContext("analyst@company.com", refreshTime)
	result, err := p.Refresh(context.Background(), run)
	s.Require().NoError(err)

	ops := s.recorder.Operations(run.RunID)
	s.NotEmpty(ops)
	s.Equal(result.CleaningOps, len(ops))
	s.Equal(3, result.Quality.Records)
}

func (s *PipelineSuite) TestSecondRefreshSkipsProcessedFiles() {
	s.writeCustomerFiles()
	p := s.newPipeline(s.versions)

	_, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	// A fresh pipeline reloads the checkpoint from disk
	result, err := s.newPipeline(s.versions).Refresh(context.Background(),
		NewRunContext("analyst@company.com", refreshTime.Add(time.Hour)))
	s.Require().NoError(err)

	s.Equal(2, result.FilesSkipped)
	s.Equal(0, result.FilesIngested)
	s.Equal(0, result.Inserted)
	s.Equal(2, result.CurrentRows)
	s.Equal(2, result.GoldRows)
	s.Equal(model.AccessMaskedOnly, result.AccessLevel)
}

func (s *PipelineSuite) TestRefreshSkipsEmptyFile() {
	s.writeCustomerFiles()
	empty := s.writeFile("customers_0.csv", "")
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	s.Equal(1, result.FilesFailed)
	s.Equal(2, result.FilesIngested)
	s.Equal(1, result.ErrorCategories[ErrorCategoryIngestion])

	checkpoint, err := bronze.LoadCheckpoint(s.checkpoint)
	s.Require().NoError(err)
	s.False(checkpoint.IsProcessed(empty))
	s.True(checkpoint.IsProcessed(filepath.Join(s.dir, "customers_1.csv")))
}

func (s *PipelineSuite) TestGrantLookupFailureFallsBackToMaskedOnly() {
	s.grants = failingGrants{}
	s.writeCustomerFiles()
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("governance@company.com", refreshTime))
	s.Require().NoError(err)

	s.True(result.Fallback)
	s.Equal(model.AccessMaskedOnly, result.AccessLevel)
	s.Equal(1, result.ErrorCategories[ErrorCategoryWarning])
}

func (s *PipelineSuite) TestSnapshotterIsUsedWhenAvailable() {
	s.writeCustomerFiles()
	store := &snapshotTable{Table: s.versions}
	p := s.newPipeline(store)

	result, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	s.Equal(1, store.snapshots)
	s.Equal(3, result.Inserted)
}

func (s *PipelineSuite) TestSinkRetriesTransientErrors() {
	s.writeCustomerFiles()
	s.sink.failures = []error{errors.New("connection reset by peer")}
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	s.Len(s.sink.callsFor("customers_raw"), 2)
	s.Equal(1, result.ErrorCategories[ErrorCategoryStorage])
}

func (s *PipelineSuite) TestSinkOutageAbortsWithoutCheckpoint() {
	s.writeCustomerFiles()
	outage := errors.New("connection refused")
	s.sink.failures = []error{outage, outage, outage}
	p := s.newPipeline(s.versions)

	_, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().Error(err)
	s.Contains(err.Error(), "bronze stage failed")

	checkpoint, err := bronze.LoadCheckpoint(s.checkpoint)
	s.Require().NoError(err)
	s.False(checkpoint.IsProcessed(filepath.Join(s.dir, "customers_1.csv")))
	s.Empty(s.versions.Keys())
}

func (s *PipelineSuite) TestRejectedFileIsLeftPending() {
	s.writeCustomerFiles()
	s.sink.failures = []error{errors.New(`column "credit_score" is of type bigint but expression is of type text`)}
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	s.Equal(1, result.FilesIngested)
	s.Equal(1, result.FilesFailed)
	s.Equal(1, result.BronzeRows)
	s.Equal(1, result.SilverRows)
	s.Equal(1, result.ErrorCategories[ErrorCategoryIngestion])
	s.Require().Len(result.Files, 2)
	s.False(result.Files[0].Success)
	s.NotEmpty(result.Files[0].Errors)
	s.Equal([]string{"C001"}, s.versions.Keys())

	checkpoint, err := bronze.LoadCheckpoint(s.checkpoint)
	s.Require().NoError(err)
	s.False(checkpoint.IsProcessed(filepath.Join(s.dir, "customers_1.csv")))
	s.True(checkpoint.IsProcessed(filepath.Join(s.dir, "customers_2.csv")))

	// The next refresh picks the rejected file up again
	result, err = s.newPipeline(s.versions).Refresh(context.Background(),
		NewRunContext("analyst@company.com", refreshTime.Add(time.Hour)))
	s.Require().NoError(err)
	s.Equal(1, result.FilesIngested)
	s.Equal(1, result.FilesSkipped)
	s.ElementsMatch([]string{"C001", "C002"}, s.versions.Keys())
}

func (s *PipelineSuite) TestEmptyVersionStoreDoesNotOverwritePublishedTables() {
	s.writeCustomerFiles()

	_, err := s.newPipeline(scd.NewTable()).Refresh(context.Background(),
		NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)
	s.Require().Len(s.sink.callsFor("customers_silver"), 1)

	// A restart with a fresh version store still sees the checkpoint on disk
	result, err := s.newPipeline(scd.NewTable()).Refresh(context.Background(),
		NewRunContext("analyst@company.com", refreshTime.Add(time.Hour)))
	s.Require().NoError(err)

	s.True(result.PublishSkipped)
	s.Equal(2, result.FilesSkipped)
	s.Equal(0, result.CurrentRows)
	s.Equal(1, result.ErrorCategories[ErrorCategoryWarning])
	s.Len(s.sink.callsFor("customers_silver"), 1)
	s.Len(s.sink.callsFor("customers_gold"), 1)
}

func (s *PipelineSuite) TestFirstRefreshPublishesEmptyTables() {
	p := s.newPipeline(s.versions)

	result, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.Require().NoError(err)

	s.False(result.PublishSkipped)
	s.Len(s.sink.callsFor("customers_silver"), 1)
	s.Len(s.sink.callsFor("customers_gold"), 1)
}

func (s *PipelineSuite) TestConcurrentRefreshIsRejected() {
	p := s.newPipeline(s.versions)
	p.running.Lock()
	defer p.running.Unlock()

	_, err := p.Refresh(context.Background(), NewRunContext("analyst@company.com", refreshTime))
	s.ErrorIs(err, ErrRefreshInProgress)
}

func TestNewPipelineRequiresDependencies(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewPipeline(Dependencies{}, Options{}, nil)
	require.Error(t, err)

	_, err = NewPipeline(Dependencies{}, Options{}, logger)
	assert.EqualError(t, err, "ingester is required")
}

func TestNewRunContext(t *testing.T) {
	a := NewRunContext("analyst@company.com", refreshTime)
	b := NewRunContext("analyst@company.com", refreshTime)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, "analyst@company.com", a.Identity)
	assert.Equal(t, refreshTime, a.RefreshTime)
}

func TestCalculateWorkerCount(t *testing.T) {
	n := calculateWorkerCount()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 8)
}
