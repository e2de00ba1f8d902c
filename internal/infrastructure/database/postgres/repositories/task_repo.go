package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Column mapping
// ─────────────────────────────────────────────────────────────────────────────

const taskSelect = `
	SELECT t.id, t.trigger_event_id, e.matter_id, t.due_date, t.done_date, t.done,
	       t.step, t.invoice_step, t.grace_period, t.cost, t.fee, t.discount,
	       t.detail, t.assigned_to, t.qt, t.table_driven,
	       m.caseref, m.country, m.origin, m.category, m.title, m.dead, COALESCE(m.client_id, 0),
	       c.id, c.name, c.sme, c.discount, c.vat_rate, c.email, c.locale, c.invoicing_address`

const taskFrom = `
	FROM renewal_tasks t
	JOIN events e ON e.id = t.trigger_event_id
	JOIN matters m ON m.id = e.matter_id
	LEFT JOIN actors c ON c.id = m.client_id`

var fieldColumns = map[domainRenewal.Field]string{
	domainRenewal.FieldTaskID:      "t.id",
	domainRenewal.FieldDone:        "t.done",
	domainRenewal.FieldStep:        "t.step",
	domainRenewal.FieldInvoiceStep: "t.invoice_step",
	domainRenewal.FieldDueDate:     "t.due_date",
	domainRenewal.FieldAssignedTo:  "t.assigned_to",
	domainRenewal.FieldMatterDead:  "m.dead",
	domainRenewal.FieldCaseref:     "m.caseref",
	domainRenewal.FieldCountry:     "m.country",
	domainRenewal.FieldTitle:       "m.title",
	domainRenewal.FieldClientName:  "c.name",
}

// renderedQuery is a QuerySpec translated to SQL fragments.
type renderedQuery struct {
	where   string
	orderBy string
	args    []interface{}
}

// renderQuery translates spec into a WHERE clause, an ORDER BY clause and the
// positional arguments. Limit and offset are left to the caller.
func renderQuery(spec domainRenewal.QuerySpec) (renderedQuery, error) {
	var (
		conditions []string
		args       []interface{}
		argIdx     int
	)

	nextArg := func(v interface{}) string {
		argIdx++
		args = append(args, v)
		return fmt.Sprintf("$%d", argIdx)
	}

	for _, c := range spec.Conditions {
		col, ok := fieldColumns[c.Field]
		if !ok {
			return renderedQuery{}, appErrors.Newf(appErrors.CodeInvalidParam, "unknown filter field %q", c.Field)
		}
		switch c.Op {
		case domainRenewal.OpEq:
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, nextArg(c.Value)))
		case domainRenewal.OpPrefix:
			ph := nextArg(escapeLike(fmt.Sprint(c.Value)) + "%")
			conditions = append(conditions, fmt.Sprintf("%s ILIKE %s", col, ph))
		case domainRenewal.OpContains:
			ph := nextArg("%" + escapeLike(fmt.Sprint(c.Value)) + "%")
			conditions = append(conditions, fmt.Sprintf("%s ILIKE %s", col, ph))
		case domainRenewal.OpGte:
			conditions = append(conditions, fmt.Sprintf("%s >= %s", col, nextArg(c.Value)))
		case domainRenewal.OpLte:
			conditions = append(conditions, fmt.Sprintf("%s <= %s", col, nextArg(c.Value)))
		default:
			return renderedQuery{}, appErrors.Newf(appErrors.CodeInvalidParam, "unknown filter operator %q", c.Op)
		}
	}

	var order []string
	for _, s := range spec.Sort {
		col, ok := fieldColumns[s.Field]
		if !ok {
			return renderedQuery{}, appErrors.Newf(appErrors.CodeInvalidParam, "unknown sort field %q", s.Field)
		}
		if s.Desc {
			col += " DESC"
		}
		order = append(order, col)
	}

	q := renderedQuery{args: args}
	if len(conditions) > 0 {
		q.where = "WHERE " + strings.Join(conditions, " AND ")
	}
	if len(order) > 0 {
		q.orderBy = "ORDER BY " + strings.Join(order, ", ")
	}
	return q, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// TaskRepository
// ─────────────────────────────────────────────────────────────────────────────

// TaskRepository is the PostgreSQL implementation of the renewal task
// repository. Every read loads the owning matter and client in one query.
type TaskRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewTaskRepository constructs a ready-to-use TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool, logger Logger) *TaskRepository {
	return &TaskRepository{pool: pool, logger: logger}
}

var _ domainRenewal.TaskRepository = (*TaskRepository)(nil)

func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*domainRenewal.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, taskSelect+taskFrom+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.Newf(appErrors.CodeTaskNotFound, "renewal task %d not found", id)
		}
		r.logger.Error("TaskRepository.FindByID", "task_id", id, "error", err)
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to load renewal task")
	}
	return t, nil
}

func (r *TaskRepository) FindByIDs(ctx context.Context, ids []int64) ([]*domainRenewal.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	r.logger.Debug("TaskRepository.FindByIDs", "count", len(ids))

	rows, err := r.pool.Query(ctx, taskSelect+taskFrom+` WHERE t.id = ANY($1) ORDER BY t.id`, ids)
	if err != nil {
		r.logger.Error("TaskRepository.FindByIDs", "error", err)
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to load renewal tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *TaskRepository) Paginate(ctx context.Context, spec domainRenewal.QuerySpec) ([]*domainRenewal.Task, int, error) {
	q, err := renderQuery(spec)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+taskFrom+" "+q.where, q.args...).Scan(&total); err != nil {
		r.logger.Error("TaskRepository.Paginate: count", "error", err)
		return nil, 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "count failed")
	}

	args := append([]interface{}(nil), q.args...)
	sql := taskSelect + taskFrom + " " + q.where + " " + q.orderBy
	if spec.Limit > 0 {
		args = append(args, spec.Limit, spec.Offset)
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("TaskRepository.Paginate: query", "error", err)
		return nil, 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "pipeline query failed")
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	return tasks, total, err
}

// ApplyBatch updates the tasks and appends the log entries in one
// transaction. Log entries go through the COPY protocol.
func (r *TaskRepository) ApplyBatch(ctx context.Context, batch *domainRenewal.TransitionBatch) (int, error) {
	if batch.Empty() {
		return 0, nil
	}
	r.logger.Debug("TaskRepository.ApplyBatch", "batch_id", batch.ID, "changes", len(batch.Changes))

	var affected int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range batch.Changes {
			sql, args, ok := updateStatement(c)
			if !ok {
				continue
			}
			tag, err := tx.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("update task %d: %w", c.TaskID, err)
			}
			affected += int(tag.RowsAffected())
		}

		if len(batch.Entries) == 0 {
			return nil
		}
		rows := make([][]interface{}, 0, len(batch.Entries))
		for _, e := range batch.Entries {
			rows = append(rows, []interface{}{
				e.TaskID, e.BatchID, string(e.Axis), e.From, e.To, e.Actor, e.Timestamp,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"renewal_transition_logs"},
			[]string{"task_id", "batch_id", "axis", "from_value", "to_value", "actor", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("append transition log: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("TaskRepository.ApplyBatch", "batch_id", batch.ID, "error", err)
		return 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to apply renewal batch")
	}
	return affected, nil
}

// updateStatement renders the UPDATE of one change. ok is false when the
// change sets nothing.
func updateStatement(c domainRenewal.TaskChange) (string, []interface{}, bool) {
	var (
		sets   []string
		args   []interface{}
		argIdx int
	)
	set := func(col string, v interface{}) {
		argIdx++
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
	}

	if c.Step != nil {
		set("step", int(*c.Step))
	}
	if c.InvoiceStep != nil {
		set("invoice_step", int(*c.InvoiceStep))
	}
	if c.GracePeriod != nil {
		set("grace_period", *c.GracePeriod)
	}
	if c.Done != nil {
		set("done", *c.Done)
	}
	if c.DoneDate != nil {
		set("done_date", *c.DoneDate)
	}
	if len(sets) == 0 {
		return "", nil, false
	}
	args = append(args, c.TaskID)
	return fmt.Sprintf("UPDATE renewal_tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), argIdx+1), args, true
}

func (r *TaskRepository) GetGroupedByClient(ctx context.Context, ids []int64) (map[int64][]*domainRenewal.Task, error) {
	tasks, err := r.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.GroupBy(tasks, func(t *domainRenewal.Task) int64 { return t.Matter.ClientID }), nil
}

func (r *TaskRepository) CountByStep(ctx context.Context) (map[domainRenewal.Step]int, error) {
	counts, err := r.countBy(ctx, "step")
	if err != nil {
		return nil, err
	}
	return lo.MapKeys(counts, func(_ int, k int) domainRenewal.Step { return domainRenewal.Step(k) }), nil
}

func (r *TaskRepository) CountByInvoiceStep(ctx context.Context) (map[domainRenewal.InvoiceStep]int, error) {
	counts, err := r.countBy(ctx, "invoice_step")
	if err != nil {
		return nil, err
	}
	return lo.MapKeys(counts, func(_ int, k int) domainRenewal.InvoiceStep { return domainRenewal.InvoiceStep(k) }), nil
}

// countBy counts the tasks of the default pipeline view (pending, live
// matter) grouped by column, which must be a trusted identifier.
func (r *TaskRepository) countBy(ctx context.Context, column string) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT t.%[1]s, COUNT(*)
		FROM renewal_tasks t
		JOIN events e ON e.id = t.trigger_event_id
		JOIN matters m ON m.id = e.matter_id
		WHERE NOT t.done AND NOT m.dead
		GROUP BY t.%[1]s`, column))
	if err != nil {
		r.logger.Error("TaskRepository.countBy", "column", column, "error", err)
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "count failed")
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var key, n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "scan count")
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "count rows")
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanTask(row scanner) (*domainRenewal.Task, error) {
	var (
		t          domainRenewal.Task
		m          domainRenewal.Matter
		step, inv  int
		doneDate   *time.Time
		clientID   *int64
		clientName *string
		clientSME  *bool
		clientDisc decimal.NullDecimal
		clientVAT  decimal.NullDecimal
		clientMail *string
		clientLoc  *string
		clientAddr *string
	)
	err := row.Scan(
		&t.ID, &t.TriggerEventID, &t.MatterID, &t.DueDate, &doneDate, &t.Done,
		&step, &inv, &t.GracePeriod, &t.Cost, &t.Fee, &t.Discount,
		&t.Detail, &t.AssignedTo, &t.Qt, &t.TableDriven,
		&m.Caseref, &m.Country, &m.Origin, &m.Category, &m.Title, &m.Dead, &m.ClientID,
		&clientID, &clientName, &clientSME, &clientDisc, &clientVAT, &clientMail, &clientLoc, &clientAddr,
	)
	if err != nil {
		return nil, err
	}

	t.Step = domainRenewal.Step(step)
	t.InvoiceStep = domainRenewal.InvoiceStep(inv)
	t.DoneDate = doneDate
	m.ID = t.MatterID
	m.Country = strings.TrimSpace(m.Country)
	if clientID != nil {
		m.Client = &domainRenewal.Client{
			ID:               *clientID,
			Name:             lo.FromPtr(clientName),
			SME:              lo.FromPtr(clientSME),
			Discount:         clientDisc,
			VATRate:          clientVAT,
			Email:            lo.FromPtr(clientMail),
			Locale:           lo.FromPtr(clientLoc),
			InvoicingAddress: lo.FromPtr(clientAddr),
		}
	}
	t.Matter = &m
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*domainRenewal.Task, error) {
	var out []*domainRenewal.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan renewal task")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "renewal task rows")
	}
	return out, nil
}
