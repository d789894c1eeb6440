package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/manager"
	"github.com/metaobjects/metaobjects/internal/orm/query"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

// DefaultRange bounds record listings that do not ask for a range.
var DefaultRange = query.NewRange(1, 100)

// API exposes the registry and the metadata tree. Record endpoints need a
// manager and answer 501 without one.
type API struct {
	tree    *metadata.Tree
	store   *sqldriver.Store
	manager *manager.Manager
	logger  *zap.Logger
}

// APIOption configures an API
type APIOption func(*API)

// WithStore selects the store whose dialect renders DDL and SQL when the
// request names none.
func WithStore(store *sqldriver.Store) APIOption {
	return func(a *API) {
		a.store = store
	}
}

// WithManager enables the record endpoints.
func WithManager(m *manager.Manager) APIOption {
	return func(a *API) {
		a.manager = m
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) APIOption {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAPI creates the API over tree.
func NewAPI(tree *metadata.Tree, opts ...APIOption) *API {
	a := &API{tree: tree, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the router with request ids, logging and panic recovery.
//
//	GET /health
//	GET /types
//	GET /types/{type}/{subType}
//	GET /objects
//	GET /objects/{name}
//	GET /objects/{name}/ddl?dialect=
//	GET /objects/{name}/sql?dialect=&where=&order=&range=
//	GET /objects/{name}/records?where=&order=&range=
//	GET /objects/{name}/count?where=
//	GET /refs/{ref}
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(), Logging(a.logger), Recovery(a.logger))

	r.Get("/health", a.health)
	r.Route("/types", func(r chi.Router) {
		r.Get("/", a.listTypes)
		r.Get("/{type}/{subType}", a.getType)
	})
	r.Route("/objects", func(r chi.Router) {
		r.Get("/", a.listObjects)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", a.getObject)
			r.Get("/ddl", a.objectDDL)
			r.Get("/sql", a.objectSQL)
			r.Get("/records", a.listRecords)
			r.Get("/count", a.countRecords)
		})
	})
	r.Get("/refs/{ref}", a.getRef)
	return r
}

func (a *API) registry() *registry.Registry {
	return a.tree.Registry()
}

type healthResponse struct {
	Healthy  bool     `json:"healthy"`
	Types    int      `json:"types"`
	Objects  int      `json:"objects"`
	Problems []string `json:"problems,omitempty"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	report := a.registry().ValidateConsistency()
	resp := healthResponse{
		Healthy:  report.Healthy(),
		Types:    report.TotalTypes,
		Objects:  len(a.tree.Objects()),
		Problems: report.Problems(),
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	renderJSON(w, status, resp)
}

type typeSummary struct {
	Name           string `json:"name"`
	Parent         string `json:"parent,omitempty"`
	Implementation string `json:"implementation,omitempty"`
	Description    string `json:"description,omitempty"`
	Children       int    `json:"children"`
}

func (a *API) listTypes(w http.ResponseWriter, r *http.Request) {
	defs := a.registry().Types()
	out := make([]typeSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, typeSummary{
			Name:           d.QualifiedName(),
			Parent:         d.ParentQualifiedName(),
			Implementation: d.Implementation,
			Description:    d.Description,
			Children:       len(d.Children),
		})
	}
	renderJSON(w, http.StatusOK, out)
}

type typeDetail struct {
	typeSummary
	Declared  []string `json:"declared"`
	Effective []string `json:"effective"`
	Supported string   `json:"supported"`
}

func (a *API) getType(w http.ResponseWriter, r *http.Request) {
	reg := a.registry()
	typ, subType := chi.URLParam(r, "type"), chi.URLParam(r, "subType")
	d, ok := reg.Get(typ, subType)
	if !ok {
		qualified := typ + "." + subType
		renderError(w, http.StatusNotFound, "type_not_found", "unknown type "+qualified,
			ui.FindSimilar(qualified, reg.TypeNames(), nil)...)
		return
	}
	detail := typeDetail{
		typeSummary: typeSummary{
			Name:           d.QualifiedName(),
			Parent:         d.ParentQualifiedName(),
			Implementation: d.Implementation,
			Description:    d.Description,
			Children:       len(d.Children),
		},
		Declared:  requirementStrings(d.Children),
		Effective: requirementStrings(reg.EffectiveRequirements(typ, subType)),
		Supported: reg.SupportedChildrenDescription(typ, subType),
	}
	renderJSON(w, http.StatusOK, detail)
}

func requirementStrings(reqs []registry.ChildRequirement) []string {
	out := make([]string, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.String())
	}
	return out
}

type fieldSummary struct {
	Name    string `json:"name"`
	SubType string `json:"subType"`
}

type objectSummary struct {
	Name    string         `json:"name"`
	SubType string         `json:"subType"`
	Super   string         `json:"super,omitempty"`
	Fields  []fieldSummary `json:"fields"`
}

func summarize(n *metadata.Node) objectSummary {
	s := objectSummary{Name: n.Name(), SubType: n.SubType()}
	if super, ok, _ := n.Super(); ok {
		s.Super = super.Name()
	}
	for _, f := range n.Fields() {
		s.Fields = append(s.Fields, fieldSummary{Name: f.Name(), SubType: f.SubType()})
	}
	return s
}

func (a *API) listObjects(w http.ResponseWriter, r *http.Request) {
	objects := a.tree.Objects()
	out := make([]objectSummary, 0, len(objects))
	for _, n := range objects {
		out = append(out, summarize(n))
	}
	renderJSON(w, http.StatusOK, out)
}

// object resolves {name} or writes a 404 with near matches.
func (a *API) object(w http.ResponseWriter, r *http.Request) (*metadata.Node, bool) {
	name := chi.URLParam(r, "name")
	n, err := a.tree.Object(name)
	if err != nil {
		var names []string
		for _, o := range a.tree.Objects() {
			names = append(names, o.Name())
		}
		renderError(w, http.StatusNotFound, "object_not_found", err.Error(), ui.FindSimilar(name, names, nil)...)
		return nil, false
	}
	return n, true
}

func (a *API) getObject(w http.ResponseWriter, r *http.Request) {
	if n, ok := a.object(w, r); ok {
		renderJSON(w, http.StatusOK, summarize(n))
	}
}

// sqlStore returns the configured store, or a store without a database for
// the dialect named by the dialect parameter.
func (a *API) sqlStore(w http.ResponseWriter, r *http.Request) (*sqldriver.Store, bool) {
	name := r.URL.Query().Get("dialect")
	if name == "" && a.store != nil {
		return a.store, true
	}
	d, err := sqldriver.ByName(name)
	if err != nil {
		renderError(w, http.StatusBadRequest, "unknown_dialect", err.Error(), sqldriver.Dialects()...)
		return nil, false
	}
	return sqldriver.NewStore(nil, d, sqldriver.WithLogger(a.logger)), true
}

type ddlResponse struct {
	Dialect    string   `json:"dialect"`
	Statements []string `json:"statements"`
}

func (a *API) objectDDL(w http.ResponseWriter, r *http.Request) {
	n, ok := a.object(w, r)
	if !ok {
		return
	}
	store, ok := a.sqlStore(w, r)
	if !ok {
		return
	}
	tables, views, err := store.Schema(n)
	if err != nil {
		renderError(w, http.StatusUnprocessableEntity, "mapping_failed", err.Error())
		return
	}
	d := store.Driver().Dialect
	stmts, err := d.CreateStatements(tables, views)
	if err != nil {
		renderError(w, http.StatusUnprocessableEntity, "ddl_failed", err.Error())
		return
	}
	renderJSON(w, http.StatusOK, ddlResponse{Dialect: d.Name, Statements: stmts})
}

// options reads where, order and range. Parse failures answer 400.
func options(w http.ResponseWriter, r *http.Request) (*query.Options, bool) {
	q := r.URL.Query()
	opts, err := query.Parse(q.Get("where"), q.Get("order"), q.Get("range"))
	if err != nil {
		renderError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return nil, false
	}
	return opts, true
}

type sqlResponse struct {
	Dialect string   `json:"dialect"`
	SQL     string   `json:"sql"`
	Args    []any    `json:"args"`
	Fields  []string `json:"fields"`
	Skip    int      `json:"skip,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (a *API) objectSQL(w http.ResponseWriter, r *http.Request) {
	n, ok := a.object(w, r)
	if !ok {
		return
	}
	opts, ok := options(w, r)
	if !ok {
		return
	}
	store, ok := a.sqlStore(w, r)
	if !ok {
		return
	}
	m, err := store.Mapping(n)
	if err != nil {
		renderError(w, http.StatusUnprocessableEntity, "mapping_failed", err.Error())
		return
	}
	stmt, err := store.Driver().SelectSQL(m, opts)
	if err != nil {
		renderError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	renderJSON(w, http.StatusOK, sqlResponse{
		Dialect: store.Driver().Dialect.Name,
		SQL:     stmt.SQL,
		Args:    stmt.Args,
		Fields:  stmt.Fields,
		Skip:    stmt.Skip,
		Limit:   stmt.Limit,
	})
}

// withManager runs fn on a read-only connection of the manager and renders
// its result. Without a manager it answers 501.
func (a *API) withManager(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, c connection.ObjectConnection) (any, error)) {
	if a.manager == nil {
		renderError(w, http.StatusNotImplemented, "no_datastore", "no datastore is configured")
		return
	}
	var result any
	err := a.manager.WithConnection(r.Context(), func(c connection.ObjectConnection) error {
		if err := c.SetReadOnly(true); err != nil {
			return err
		}
		var err error
		result, err = fn(r.Context(), c)
		return err
	})
	if err != nil {
		a.renderManagerError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

func (a *API) renderManagerError(w http.ResponseWriter, err error) {
	switch {
	case manager.IsObjectNotFound(err), metadata.IsNotFound(err):
		renderError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, manager.ErrInvalidRef), errors.Is(err, expression.ErrInvalidExpression), errors.Is(err, query.ErrInvalidRange):
		renderError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		a.logger.Error("datastore request failed", zap.Error(err))
		renderError(w, http.StatusInternalServerError, "datastore_error", err.Error())
	}
}

type recordsResponse struct {
	Object  string           `json:"object"`
	Range   string           `json:"range"`
	Records []map[string]any `json:"records"`
}

type countResponse struct {
	Object string `json:"object"`
	Count  int64  `json:"count"`
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	n, ok := a.object(w, r)
	if !ok {
		return
	}
	opts, ok := options(w, r)
	if !ok {
		return
	}
	if opts.Range == nil {
		rng := DefaultRange
		opts.Range = &rng
	}
	a.withManager(w, r, func(ctx context.Context, c connection.ObjectConnection) (any, error) {
		objs, err := a.manager.GetObjects(ctx, c, n, opts)
		if err != nil {
			return nil, err
		}
		resp := recordsResponse{Object: n.Name(), Range: opts.Range.String(), Records: make([]map[string]any, 0, len(objs))}
		for _, o := range objs {
			resp.Records = append(resp.Records, o.Values())
		}
		return resp, nil
	})
}

func (a *API) countRecords(w http.ResponseWriter, r *http.Request) {
	n, ok := a.object(w, r)
	if !ok {
		return
	}
	opts, ok := options(w, r)
	if !ok {
		return
	}
	a.withManager(w, r, func(ctx context.Context, c connection.ObjectConnection) (any, error) {
		count, err := a.manager.GetObjectsCount(ctx, c, n, opts.Expression)
		if err != nil {
			return nil, err
		}
		return countResponse{Object: n.Name(), Count: count}, nil
	})
}

func (a *API) getRef(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	a.withManager(w, r, func(ctx context.Context, c connection.ObjectConnection) (any, error) {
		obj, err := a.manager.GetObjectByRef(ctx, c, ref)
		if err != nil {
			return nil, err
		}
		return obj.Values(), nil
	})
}
