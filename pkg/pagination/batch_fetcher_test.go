package pagination

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/alm-export/internal/testutil"
	"github.com/Sternrassler/alm-export/pkg/mapping"
)

// fakeSource serves pages from testutil entities with per-page delays and errors.
type fakeSource struct {
	total  int
	delays map[int]time.Duration
	errs   map[int]error
	panics map[int]bool

	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    []int
}

func (f *fakeSource) GetPage(ctx context.Context, startIndex, pageSize int) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls = append(f.calls, startIndex)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if d := f.delays[startIndex]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics[startIndex] {
		panic("boom")
	}
	if err := f.errs[startIndex]; err != nil {
		return nil, err
	}

	end := startIndex - 1 + pageSize
	if end > f.total {
		end = f.total
	}
	tests := make([]testutil.MockTest, 0, pageSize)
	for id := startIndex; id <= end; id++ {
		tests = append(tests, testutil.NewTest(id))
	}
	return testutil.EntitiesJSON(tests, f.total), nil
}

type recordingProgress struct {
	mu    sync.Mutex
	steps []int
}

func (p *recordingProgress) Advance(_ context.Context, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, n)
}

func idMapping() mapping.FieldMapping {
	return mapping.MustNew(
		mapping.Entry{Column: "ID", Key: "id"},
		mapping.Entry{Column: "Name", Key: "name"},
		mapping.Entry{Column: "Description", Key: "description"},
	)
}

func TestStartIndices(t *testing.T) {
	tests := []struct {
		total    int
		pageSize int
		expected []int
	}{
		{total: 0, pageSize: 100, expected: nil},
		{total: 1, pageSize: 100, expected: nil},
		{total: 2, pageSize: 100, expected: []int{1}},
		{total: 100, pageSize: 100, expected: []int{1}},
		{total: 101, pageSize: 100, expected: []int{1}},
		{total: 102, pageSize: 100, expected: []int{1, 101}},
		{total: 250, pageSize: 100, expected: []int{1, 101, 201}},
		{total: 10, pageSize: 3, expected: []int{1, 4, 7}},
		{total: 10, pageSize: 0, expected: nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.total, tt.pageSize), func(t *testing.T) {
			got := StartIndices(tt.total, tt.pageSize)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("StartIndices(%d, %d) = %v, want %v", tt.total, tt.pageSize, got, tt.expected)
			}
		})
	}
}

func TestNewBatchFetcher_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected Config
	}{
		{name: "zero config", config: Config{}, expected: Config{MaxConcurrency: 5, PageSize: 100}},
		{name: "page size clamped", config: Config{MaxConcurrency: 2, PageSize: 500}, expected: Config{MaxConcurrency: 2, PageSize: 100}},
		{name: "small page size kept", config: Config{MaxConcurrency: 8, PageSize: 25}, expected: Config{MaxConcurrency: 8, PageSize: 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bf := NewBatchFetcher(&fakeSource{}, tt.config)
			if got := bf.Config(); got != tt.expected {
				t.Errorf("Config() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestFetchPage(t *testing.T) {
	src := &fakeSource{total: 5}

	res := FetchPage(context.Background(), src, idMapping(), 1, 100)
	if res.Failed {
		t.Fatalf("FetchPage() failed: %v", res.Err)
	}
	if len(res.Rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(res.Rows))
	}
	if res.Rows[0][0] != "1" || res.Rows[0][2] != "Step 1" {
		t.Errorf("first row = %v", res.Rows[0])
	}
}

func TestFetchPage_Failures(t *testing.T) {
	tests := []struct {
		name string
		src  PageSource
	}{
		{name: "source error", src: &fakeSource{total: 5, errs: map[int]error{1: errors.New("500")}}},
		{name: "malformed body", src: staticSource(`{"TotalResults": 5}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FetchPage(context.Background(), tt.src, idMapping(), 1, 100)
			if !res.Failed || res.Err == nil {
				t.Errorf("FetchPage() = %+v, want failure", res)
			}
			if res.Rows != nil {
				t.Errorf("failed page rows = %v, want nil", res.Rows)
			}
		})
	}
}

func TestFetchPage_EmptySuccess(t *testing.T) {
	res := FetchPage(context.Background(), staticSource(`{"entities": []}`), idMapping(), 1, 100)
	if res.Failed {
		t.Fatalf("empty page reported as failed: %v", res.Err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(res.Rows))
	}
}

type staticSource string

func (s staticSource) GetPage(context.Context, int, int) ([]byte, error) {
	return []byte(s), nil
}

func TestRun_SubmissionOrder(t *testing.T) {
	// First page completes last.
	src := &fakeSource{
		total: 250,
		delays: map[int]time.Duration{
			1:   60 * time.Millisecond,
			101: 30 * time.Millisecond,
		},
	}

	table := NewBatchFetcher(src, DefaultConfig()).Run(context.Background(), idMapping(), 250)

	if !reflect.DeepEqual(table.Header, []string{"ID", "Name", "Description"}) {
		t.Errorf("Header = %v", table.Header)
	}
	if table.Len() != 250 {
		t.Fatalf("rows = %d, want 250", table.Len())
	}
	for i, row := range table.Rows {
		if want := fmt.Sprint(i + 1); row[0] != want {
			t.Fatalf("row %d id = %v, want %s", i, row[0], want)
		}
	}
	if table.Rows[0][0] != "1" || table.Rows[100][0] != "101" || table.Rows[200][0] != "201" {
		t.Error("page boundaries out of order")
	}
}

func TestRun_PartialFailure(t *testing.T) {
	src := &fakeSource{
		total: 250,
		errs:  map[int]error{101: errors.New("ALM server error (status 500)")},
	}
	progress := &recordingProgress{}

	table := NewBatchFetcher(src, DefaultConfig()).WithProgress(progress).Run(context.Background(), idMapping(), 250)

	if table.Len() != 150 {
		t.Fatalf("rows = %d, want 150", table.Len())
	}
	if table.Rows[99][0] != "100" || table.Rows[100][0] != "201" {
		t.Errorf("rows around the gap = %v, %v", table.Rows[99][0], table.Rows[100][0])
	}
	if !reflect.DeepEqual(progress.steps, []int{100, 100, 100}) {
		t.Errorf("progress steps = %v, want [100 100 100]", progress.steps)
	}
}

func TestFetchAll_PanicIsFailure(t *testing.T) {
	src := &fakeSource{total: 30, panics: map[int]bool{11: true}}

	results := NewBatchFetcher(src, Config{MaxConcurrency: 2, PageSize: 10}).FetchAll(context.Background(), idMapping(), 30)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []int{1, 11, 21} {
		if results[i].StartIndex != want {
			t.Errorf("results[%d].StartIndex = %d, want %d", i, results[i].StartIndex, want)
		}
	}
	if !results[1].Failed || results[1].Err == nil {
		t.Errorf("panicking page = %+v, want failure", results[1])
	}
	if results[0].Failed || results[2].Failed {
		t.Error("other pages should succeed")
	}
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	delays := make(map[int]time.Duration)
	for _, idx := range StartIndices(200, 10) {
		delays[idx] = 10 * time.Millisecond
	}
	src := &fakeSource{total: 200, delays: delays}

	results := NewBatchFetcher(src, Config{MaxConcurrency: 3, PageSize: 10}).FetchAll(context.Background(), idMapping(), 200)

	if len(results) != 20 {
		t.Fatalf("results = %d, want 20", len(results))
	}
	if src.maxSeen > 3 {
		t.Errorf("max in-flight = %d, want <= 3", src.maxSeen)
	}
	if len(src.calls) != 20 {
		t.Errorf("calls = %d, want 20", len(src.calls))
	}
}

func TestFetchAll_Cancelled(t *testing.T) {
	src := &fakeSource{total: 50}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewBatchFetcher(src, Config{MaxConcurrency: 2, PageSize: 10}).FetchAll(ctx, idMapping(), 50)

	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for _, r := range results {
		if !r.Failed || !errors.Is(r.Err, context.Canceled) {
			t.Errorf("page %d = %+v, want cancelled failure", r.StartIndex, r)
		}
	}
}

func TestFetchAll_Empty(t *testing.T) {
	progress := &recordingProgress{}
	results := NewBatchFetcher(&fakeSource{}, DefaultConfig()).WithProgress(progress).FetchAll(context.Background(), idMapping(), 0)

	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
	if len(progress.steps) != 0 {
		t.Errorf("progress steps = %v, want none", progress.steps)
	}
}
