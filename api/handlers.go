package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"task-api/domain"
)

const healthTimeout = 2 * time.Second

// Register wires up the middleware stack, error handling and all API routes
// on the provided Echo instance.
func Register(e *echo.Echo, store Store, logger *log.Logger, opts Options) {
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = errorHandler(logger)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(logger))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{DisableErrorHandler: true}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(middleware.Decompress())
	e.Use(middleware.BodyLimit("64K"))

	g := e.Group("/api/tasks")
	g.POST("", createTask(store, timeout), validate(createRules))
	g.GET("", listTasks(store, timeout), validate(listRules))
	g.GET("/:id", getTask(store, timeout), validate(idRules))
	g.PUT("/:id", updateTask(store, timeout), validate(updateRules))
	g.DELETE("/:id", deleteTask(store, timeout), validate(idRules))

	e.GET("/healthz", healthz(store, logger))
}

// storeCall runs fn under the per-call deadline and records its duration.
func storeCall(c echo.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	m := requestMetricsFrom(c)
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.SetErrorStage("store")
	}
	return err
}

func notFound(c echo.Context) error {
	requestMetricsFrom(c).SetErrorStage("not_found")
	return domain.ErrTaskNotFound
}

func createTask(store Store, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		var created domain.Task
		err := storeCall(c, timeout, func(ctx context.Context) (err error) {
			created, err = store.Create(ctx, domain.NewTask(patchFrom(c)))
			return err
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, taskResponse{Success: true, Data: created})
	}
}

func listTasks(store Store, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		var tasks []domain.Task
		err := storeCall(c, timeout, func(ctx context.Context) (err error) {
			tasks, err = store.Find(ctx, queryFrom(c))
			return err
		})
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		requestMetricsFrom(c).SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Success: true, Count: len(tasks), Data: tasks})
	}
}

func getTask(store Store, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		var task *domain.Task
		err := storeCall(c, timeout, func(ctx context.Context) (err error) {
			task, err = store.FindByID(ctx, c.Param("id"))
			return err
		})
		if err != nil {
			return err
		}
		if task == nil {
			return notFound(c)
		}
		requestMetricsFrom(c).SetTasksReturned(1)
		return c.JSON(http.StatusOK, taskResponse{Success: true, Data: *task})
	}
}

func updateTask(store Store, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		var task *domain.Task
		err := storeCall(c, timeout, func(ctx context.Context) (err error) {
			task, err = store.FindByIDAndUpdate(ctx, c.Param("id"), patchFrom(c))
			return err
		})
		if err != nil {
			return err
		}
		if task == nil {
			return notFound(c)
		}
		requestMetricsFrom(c).SetTasksReturned(1)
		return c.JSON(http.StatusOK, taskResponse{Success: true, Data: *task})
	}
}

func deleteTask(store Store, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		var task *domain.Task
		err := storeCall(c, timeout, func(ctx context.Context) (err error) {
			task, err = store.FindByIDAndDelete(ctx, c.Param("id"))
			return err
		})
		if err != nil {
			return err
		}
		if task == nil {
			return notFound(c)
		}
		return c.JSON(http.StatusOK, deletedResponse{Success: true})
	}
}

func healthz(store Store, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p, ok := store.(Pinger); ok {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				requestMetricsFrom(c).SetErrorStage("ping")
				logger.WithError(err).Error("health check failed")
				return domain.WithStatus(http.StatusServiceUnavailable, "Service unavailable")
			}
		}
		return c.JSON(http.StatusOK, healthResponse{Success: true})
	}
}
