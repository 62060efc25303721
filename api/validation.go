package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"task-api/domain"
)

const (
	maxBodySize = 64 << 10

	patchKey = "task.patch"
	queryKey = "task.query"
)

const (
	msgTitleRequired     = "Title is required"
	msgTitleLength       = "Title must be between 3 and 100 characters"
	msgDescriptionLength = "Description cannot exceed 500 characters"
	msgStatus            = "Status must be pending, in-progress, or completed"
	msgDueDateRequired   = "Due date is required"
	msgDueDateInvalid    = "Due date must be a valid date"
	msgDueDatePast       = "Due date cannot be in the past"
	msgInvalidID         = "Invalid task ID"
	msgStatusFilter      = "Invalid status filter"
	msgSortField         = "Invalid sort field"
)

var errInvalidBody = domain.WithStatus(http.StatusBadRequest, "invalid body")

// ruleSet checks one operation's input. On success it stores the normalized
// input on the context; on failure it returns a tagged error.
type ruleSet func(c echo.Context) error

// validate runs rules ahead of the handler and short-circuits on failure.
func validate(rules ruleSet) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := rules(c); err != nil {
				requestMetricsFrom(c).SetErrorStage("validation")
				return err
			}
			return next(c)
		}
	}
}

type violations []domain.FieldError

func (v *violations) add(loc domain.Location, field, msg string) {
	*v = append(*v, domain.FieldError{Location: loc, Field: field, Message: msg})
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return domain.ValidationFailed(v)
}

func createRules(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	var v violations
	patch := checkBody(&v, body, true)
	if err := v.err(); err != nil {
		return err
	}
	c.Set(patchKey, patch)
	return nil
}

func updateRules(c echo.Context) error {
	var v violations
	checkID(&v, c)
	body, err := readBody(c)
	if err != nil {
		return err
	}
	patch := checkBody(&v, body, false)
	if err := v.err(); err != nil {
		return err
	}
	c.Set(patchKey, patch)
	return nil
}

func idRules(c echo.Context) error {
	var v violations
	checkID(&v, c)
	return v.err()
}

func listRules(c echo.Context) error {
	var v violations
	params := c.QueryParams()
	var q domain.ListQuery
	if params.Has("status") {
		s := domain.Status(params.Get("status"))
		if s.Valid() {
			q.Status = s
		} else {
			v.add(domain.InQuery, "status", msgStatusFilter)
		}
	}
	if params.Has("sortBy") {
		if s, ok := domain.ParseSort(params.Get("sortBy")); ok {
			q.Sort = s
		} else {
			v.add(domain.InQuery, "sortBy", msgSortField)
		}
	}
	if err := v.err(); err != nil {
		return err
	}
	c.Set(queryKey, q)
	return nil
}

func checkID(v *violations, c echo.Context) {
	if !primitive.IsValidObjectID(c.Param("id")) {
		v.add(domain.InParams, "id", msgInvalidID)
	}
}

// checkBody applies the body rules field by field, stopping each field at its
// first failing rule. Create requires title and dueDate; update treats every
// field as optional but validates whatever is present.
func checkBody(v *violations, body map[string]any, create bool) domain.TaskPatch {
	var p domain.TaskPatch

	if raw, ok := body["title"]; ok || create {
		s, isText := textValue(raw)
		s = strings.TrimSpace(s)
		n := utf8.RuneCountInString(s)
		switch {
		case create && isText && n == 0:
			v.add(domain.InBody, "title", msgTitleRequired)
		case !isText || n < domain.TitleMinLen || n > domain.TitleMaxLen:
			v.add(domain.InBody, "title", msgTitleLength)
		default:
			p.Title = &s
		}
	}

	if raw, ok := body["description"]; ok {
		s, isText := textValue(raw)
		s = strings.TrimSpace(s)
		if !isText || utf8.RuneCountInString(s) > domain.DescriptionMaxLen {
			v.add(domain.InBody, "description", msgDescriptionLength)
		} else {
			p.Description = &s
		}
	}

	if raw, ok := body["status"]; ok {
		s, _ := raw.(string)
		if status := domain.Status(s); status.Valid() {
			p.Status = &status
		} else {
			v.add(domain.InBody, "status", msgStatus)
		}
	}

	if raw, ok := body["dueDate"]; ok || create {
		s, isText := raw.(string)
		switch {
		case create && (raw == nil || (isText && s == "")):
			v.add(domain.InBody, "dueDate", msgDueDateRequired)
		case !isText:
			v.add(domain.InBody, "dueDate", msgDueDateInvalid)
		default:
			due, ok := parseISODate(s)
			switch {
			case !ok:
				v.add(domain.InBody, "dueDate", msgDueDateInvalid)
			case due.Before(time.Now()):
				v.add(domain.InBody, "dueDate", msgDueDatePast)
			default:
				p.DueDate = &due
			}
		}
	}

	return p
}

// textValue coerces a decoded JSON scalar to text. null becomes the empty
// string; objects and arrays are not text.
func textValue(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

var (
	dateLayouts  = []string{"2006-01-02", "20060102", "2006-002", "2006002", "2006-01", "2006"}
	clockLayouts = []string{"15:04:05.999999999", "150405.999999999", "15:04", "1504", "15"}
)

// parseISODate accepts ISO-8601 calendar and ordinal dates, optionally
// followed by a time of day and a zone designator, in extended or basic
// format. Values without a zone are read as UTC.
func parseISODate(s string) (time.Time, bool) {
	date, clock, hasClock := s, "", false
	if i := strings.IndexAny(s, "Tt "); i >= 0 {
		date, clock, hasClock = s[:i], s[i+1:], true
	}
	loc := time.UTC
	if hasClock {
		var ok bool
		if clock, loc, ok = cutZone(clock); !ok {
			return time.Time{}, false
		}
	}

	for _, dl := range dateLayouts {
		d, err := time.ParseInLocation(dl, date, loc)
		if err != nil {
			continue
		}
		if !hasClock {
			return d.UTC(), true
		}
		for _, cl := range clockLayouts {
			if c, err := time.Parse(cl, clock); err == nil {
				return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), c.Nanosecond(), loc).UTC(), true
			}
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

// cutZone strips a trailing zone designator (Z, ±hh, ±hhmm or ±hh:mm) from a
// time of day and returns the matching location.
func cutZone(clock string) (string, *time.Location, bool) {
	if strings.HasSuffix(clock, "Z") || strings.HasSuffix(clock, "z") {
		return clock[:len(clock)-1], time.UTC, true
	}
	i := strings.LastIndexAny(clock, "+-")
	if i < 0 {
		return clock, time.UTC, true
	}
	zone := clock[i+1:]
	if len(zone) == 5 && zone[2] == ':' {
		zone = zone[:2] + zone[3:]
	}
	if len(zone) != 2 && len(zone) != 4 {
		return "", nil, false
	}
	hh, err := strconv.Atoi(zone[:2])
	if err != nil || hh > 23 {
		return "", nil, false
	}
	mm := 0
	if len(zone) == 4 {
		if mm, err = strconv.Atoi(zone[2:]); err != nil || mm > 59 {
			return "", nil, false
		}
	}
	offset := hh*3600 + mm*60
	if clock[i] == '-' {
		offset = -offset
	}
	return clock[:i], time.FixedZone("", offset), true
}

// readBody decodes the request body into a JSON object. An empty body is an
// empty object.
func readBody(c echo.Context) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, errInvalidBody
	}
	if len(data) > maxBodySize {
		return nil, echo.ErrStatusRequestEntityTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var body any
	if err := sonic.Unmarshal(data, &body); err != nil {
		return nil, errInvalidBody
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, errInvalidBody
	}
	return obj, nil
}

func patchFrom(c echo.Context) domain.TaskPatch {
	p, _ := c.Get(patchKey).(domain.TaskPatch)
	return p
}

func queryFrom(c echo.Context) domain.ListQuery {
	q, _ := c.Get(queryKey).(domain.ListQuery)
	return q
}
