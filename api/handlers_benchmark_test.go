package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"task-api/storage"
)

func BenchmarkCreateTask(b *testing.B) {
	e := newBenchmarkServer()
	body := `{"title":"Benchmark task","description":"load","dueDate":"` + time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339) + `"}`

	runBenchmark(b, e, http.MethodPost, "/api/tasks", body, http.StatusCreated)
}

func BenchmarkListTasks(b *testing.B) {
	payloads := []struct {
		name  string
		tasks int
	}{
		{name: "Small", tasks: 10},
		{name: "Large", tasks: 500},
	}

	for _, payload := range payloads {
		b.Run(payload.name, func(b *testing.B) {
			e := newBenchmarkServer()
			body := `{"title":"Benchmark task","dueDate":"` + time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339) + `"}`
			for i := 0; i < payload.tasks; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
				rec := httptest.NewRecorder()
				e.ServeHTTP(rec, req)
				if rec.Code != http.StatusCreated {
					b.Fatalf("seed task: status %d", rec.Code)
				}
			}

			runBenchmark(b, e, http.MethodGet, "/api/tasks?status=pending&sortBy=-createdAt", "", http.StatusOK)
		})
	}
}

func newBenchmarkServer() *echo.Echo {
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, storage.NewMemory(), logger, Options{})
	return e
}

func runBenchmark(b *testing.B, e *echo.Echo, method, target, body string, want int) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			var req *http.Request
			if body == "" {
				req = httptest.NewRequest(method, target, nil)
			} else {
				req = httptest.NewRequest(method, target, strings.NewReader(body))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != want {
				b.Fatalf("unexpected status code: %d", rec.Code)
			}
		}
	})
}
