// Package mutation dispatches named operations arriving at the single API
// endpoint to the domain services.
package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type handlerFunc func(ctx context.Context, variables json.RawMessage) (any, error)

type operation struct {
	name             string
	requiresIdentity bool
	mutates          bool
	handle           handlerFunc
}

// Router maps operation names to handlers. Operations flagged as requiring
// an identity are rejected with ErrUnauthenticated before their arguments are
// even decoded, so no store is touched on behalf of an anonymous caller.
type Router struct {
	events    *events.Service
	users     *users.Service
	tokens    *auth.JWTManager
	sessions  *session.Resolver
	validator *validator.Validate
	logger    zerolog.Logger
	ops       map[string]operation
}

func NewRouter(eventsService *events.Service, usersService *users.Service, tokens *auth.JWTManager, sessions *session.Resolver, logger zerolog.Logger) *Router {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	r := &Router{
		events:    eventsService,
		users:     usersService,
		tokens:    tokens,
		sessions:  sessions,
		validator: v,
		logger:    logger.With().Str("component", "mutation").Logger(),
		ops:       make(map[string]operation),
	}
	r.registerEventOperations()
	r.registerParticipantOperations()
	r.registerCategoryOperations()
	r.registerAccountOperations()
	return r
}

// Operations lists the registered operation names in sorted order.
func (r *Router) Operations() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsMutation reports whether name changes state.
func (r *Router) IsMutation(name string) bool {
	return r.ops[name].mutates
}

// Dispatch runs the named operation with JSON encoded variables.
func (r *Router) Dispatch(ctx context.Context, name string, variables json.RawMessage) (result any, err error) {
	start := time.Now()
	op, ok := r.ops[name]
	label := name
	if !ok {
		label = "unknown"
	}
	defer func() {
		code := Code(err)
		metrics.MutationsTotal.WithLabelValues(label, code).Inc()
		metrics.MutationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if code == CodeVersionConflict {
			metrics.VersionConflictsTotal.WithLabelValues(label).Inc()
		}
	}()

	if !ok {
		return nil, InputError{Field: "operation", Message: "unknown operation " + name}
	}
	if op.requiresIdentity && session.FromContext(ctx) == nil {
		return nil, ErrUnauthenticated
	}

	result, err = op.handle(ctx, variables)
	if err != nil {
		logger := zerolog.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &r.logger
		}
		event := logger.Debug()
		if Code(err) == CodeInternal {
			event = logger.Error()
		}
		event.Err(err).Str("operation", name).Msg("operation failed")
	}
	return result, err
}

// register binds a typed handler. Variables are decoded strictly into In and
// validated before fn runs.
func register[In any](r *Router, name string, requiresIdentity bool, mutates bool, fn func(ctx context.Context, in In) (any, error)) {
	r.ops[name] = operation{
		name:             name,
		requiresIdentity: requiresIdentity,
		mutates:          mutates,
		handle: func(ctx context.Context, variables json.RawMessage) (any, error) {
			var in In
			if err := decodeVariables(variables, &in); err != nil {
				return nil, err
			}
			if err := r.validate(in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		},
	}
}

func (r *Router) validate(in any) error {
	if reflect.Indirect(reflect.ValueOf(in)).Kind() != reflect.Struct {
		return nil
	}
	return r.validator.Struct(in)
}

func decodeVariables(variables json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(variables)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return InputError{Field: typeErr.Field, Message: "must be " + typeErr.Type.String()}
		}
		return InputError{Field: "variables", Message: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return InputError{Field: "variables", Message: "must be a single JSON object"}
	}
	return nil
}

func identityFrom(ctx context.Context) (*session.Identity, error) {
	identity := session.FromContext(ctx)
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	return identity, nil
}
