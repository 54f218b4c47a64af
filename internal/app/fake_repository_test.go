package app

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/google/uuid"
)

type outboxRow struct {
	store.OutboxMessage
	status      string
	publishedAt time.Time
	lastError   string
}

type userRole struct {
	userID int64
	role   domain.Role
}

// memState is everything the fake persists. clone gives RunInTx a private
// copy so a failed callback leaves no trace.
type memState struct {
	nextID int64

	programs  map[int64]*domain.Program
	requests  map[int64]*domain.TransferRequest
	approvals []domain.Approval
	reviews   []domain.Review
	history   []domain.HistoryEntry
	outbox    []outboxRow

	userRoles map[int64]userRole       // user role id -> holder
	grants    map[int64]map[int64]bool // user role id -> program ids
	wallets   map[int64]int64          // wallet id -> owner user id
	emails    map[int64]string         // user id -> encrypted email
}

func newMemState() *memState {
	return &memState{
		programs:  map[int64]*domain.Program{},
		requests:  map[int64]*domain.TransferRequest{},
		userRoles: map[int64]userRole{},
		grants:    map[int64]map[int64]bool{},
		wallets:   map[int64]int64{},
		emails:    map[int64]string{},
	}
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:    s.nextID,
		programs:  make(map[int64]*domain.Program, len(s.programs)),
		requests:  make(map[int64]*domain.TransferRequest, len(s.requests)),
		approvals: slices.Clone(s.approvals),
		reviews:   slices.Clone(s.reviews),
		history:   slices.Clone(s.history),
		outbox:    slices.Clone(s.outbox),
		userRoles: make(map[int64]userRole, len(s.userRoles)),
		grants:    make(map[int64]map[int64]bool, len(s.grants)),
		wallets:   make(map[int64]int64, len(s.wallets)),
		emails:    make(map[int64]string, len(s.emails)),
	}
	for id, program := range s.programs {
		out.programs[id] = cloneProgram(program)
	}
	for id, request := range s.requests {
		out.requests[id] = request.Clone()
	}
	for id, holder := range s.userRoles {
		out.userRoles[id] = holder
	}
	for roleID, programs := range s.grants {
		copied := make(map[int64]bool, len(programs))
		for programID, active := range programs {
			copied[programID] = active
		}
		out.grants[roleID] = copied
	}
	for id, owner := range s.wallets {
		out.wallets[id] = owner
	}
	for id, email := range s.emails {
		out.emails[id] = email
	}
	return out
}

func cloneProgram(p *domain.Program) *domain.Program {
	out := *p
	out.ApproverGroups = make([]domain.ApproverGroup, len(p.ApproverGroups))
	for i, group := range p.ApproverGroups {
		group.Members = slices.Clone(group.Members)
		out.ApproverGroups[i] = group
	}
	return &out
}

// memRepository is an in-memory store.Repository with transactional
// rollback. Set enqueueErr to make every EnqueueEvent fail.
type memRepository struct {
	mu         sync.Mutex
	state      *memState
	enqueueErr error
	txCalls    int
	shareLocks int
}

func newMemRepository() *memRepository {
	return &memRepository{state: newMemState()}
}

func (m *memRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCalls++
	working := m.state.clone()
	if err := fn(ctx, &memTx{state: working, repo: m}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *memRepository) read() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memRepository) GetProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	return (&memTx{state: m.read()}).GetProgram(ctx, programID)
}

func (m *memRepository) GetTransferRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error) {
	return (&memTx{state: m.read()}).LockTransferRequest(ctx, publicID)
}

func (m *memRepository) FindReviewCandidates(ctx context.Context, publicIDs []uuid.UUID, approverRoleID int64, statuses []domain.Status) ([]domain.TransferRequest, error) {
	state := m.read()
	var out []domain.TransferRequest
	for _, request := range state.requests {
		if !slices.Contains(publicIDs, request.PublicID) || !request.IsActive || !request.Status.In(statuses...) {
			continue
		}
		if !state.grants[approverRoleID][request.ProgramID] {
			continue
		}
		out = append(out, *request.Clone())
	}
	return out, nil
}

func (m *memRepository) CanViewTransferRequest(ctx context.Context, requestID int64, actor domain.Actor) (bool, error) {
	state := m.read()
	request, ok := state.requests[requestID]
	if !ok {
		return false, nil
	}
	return request.ReceiverID == actor.UserID || state.grants[actor.UserRoleID][request.ProgramID], nil
}

func (m *memRepository) ListHistory(ctx context.Context, requestID int64) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	for _, entry := range m.read().history {
		if entry.TransferRequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memRepository) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	return (&memTx{state: m.read()}).ListApprovals(ctx, requestID)
}

func (m *memRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.OutboxMessage
	for i := range m.state.outbox {
		row := &m.state.outbox[i]
		if row.status != "pending" || len(out) >= limit {
			continue
		}
		row.status = "processing"
		row.Attempts++
		out = append(out, row.OutboxMessage)
	}
	return out, nil
}

func (m *memRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	return m.updateOutbox(id, func(row *outboxRow) {
		row.status = "published"
		row.publishedAt = time.Now()
	})
}

func (m *memRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	return m.updateOutbox(id, func(row *outboxRow) {
		row.status = "pending"
		row.lastError = reason
	})
}

func (m *memRepository) PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := m.state.outbox[:0]
	var removed int64
	for _, row := range m.state.outbox {
		if row.status == "published" && row.publishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.state.outbox = kept
	return removed, nil
}

func (m *memRepository) CountPendingOutbox(ctx context.Context) (int64, error) {
	var count int64
	for _, row := range m.read().outbox {
		if row.status != "published" {
			count++
		}
	}
	return count, nil
}

func (m *memRepository) updateOutbox(id int64, apply func(*outboxRow)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.outbox {
		if m.state.outbox[i].ID == id {
			apply(&m.state.outbox[i])
			return nil
		}
	}
	return errors.New("outbox message not found")
}

type memTx struct {
	state *memState
	repo  *memRepository
}

func (t *memTx) LockTransferRequest(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error) {
	for _, request := range t.state.requests {
		if request.PublicID == publicID {
			return request.Clone(), nil
		}
	}
	return nil, store.ErrTransferRequestNotFound
}

func (t *memTx) LockTransferRequestsByID(ctx context.Context, ids []int64) ([]domain.TransferRequest, error) {
	var out []domain.TransferRequest
	for _, id := range ids {
		if request, ok := t.state.requests[id]; ok {
			out = append(out, *request.Clone())
		}
	}
	return out, nil
}

func (t *memTx) InsertTransferRequest(ctx context.Context, request *domain.TransferRequest) error {
	request.ID = t.state.id()
	if request.PublicID == uuid.Nil {
		request.PublicID = uuid.New()
	}
	request.IsActive = true
	request.CreatedAt = time.Now()
	request.UpdatedAt = request.CreatedAt
	t.state.requests[request.ID] = request.Clone()
	return nil
}

func (t *memTx) UpdateTransferRequest(ctx context.Context, request *domain.TransferRequest) error {
	stored, ok := t.state.requests[request.ID]
	if !ok {
		return store.ErrTransferRequestNotFound
	}
	updated := request.Clone()
	updated.ReceiverID = stored.ReceiverID
	updated.RequesterID = stored.RequesterID
	updated.UpdatedAt = time.Now()
	t.state.requests[request.ID] = updated
	return nil
}

func (t *memTx) GetProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	program, ok := t.state.programs[programID]
	if !ok {
		return nil, store.ErrProgramNotFound
	}
	return cloneProgram(program), nil
}

func (t *memTx) LockProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	return t.GetProgram(ctx, programID)
}

func (t *memTx) ShareLockRequestProgram(ctx context.Context, publicID uuid.UUID) (*domain.Program, error) {
	request, err := t.LockTransferRequest(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if t.repo != nil {
		t.repo.shareLocks++
	}
	return t.GetProgram(ctx, request.ProgramID)
}

func (t *memTx) IsProgramAccessible(ctx context.Context, programID int64) (bool, error) {
	program, ok := t.state.programs[programID]
	return ok && program.IsActive, nil
}

func (t *memTx) ReplaceApproverGroups(ctx context.Context, programID int64, groups []domain.ApproverGroupInput) ([]int64, error) {
	program, ok := t.state.programs[programID]
	if !ok {
		return nil, store.ErrProgramNotFound
	}
	existing := make(map[int64]domain.ApproverGroup, len(program.ApproverGroups))
	for _, group := range program.ApproverGroups {
		existing[group.ID] = group
	}

	var changed []int64
	next := make([]domain.ApproverGroup, 0, len(groups))
	kept := make(map[int64]bool, len(groups))
	for position, input := range groups {
		groupID := input.ID
		if groupID == 0 {
			groupID = t.state.id()
		} else {
			previous, ok := existing[groupID]
			if !ok {
				return nil, store.ErrProgramNotFound
			}
			if !sameMemberSet(previous.Members, input.Members) {
				changed = append(changed, groupID)
			}
		}
		kept[groupID] = true
		next = append(next, domain.ApproverGroup{
			ID:        groupID,
			ProgramID: programID,
			Position:  position,
			Members:   slices.Clone(input.Members),
		})
	}
	for _, group := range program.ApproverGroups {
		if !kept[group.ID] {
			changed = append(changed, group.ID)
		}
	}
	program.ApproverGroups = next
	return changed, nil
}

func (t *memTx) CountProgramTransferRequests(ctx context.Context, programID int64) (int64, error) {
	var count int64
	for _, request := range t.state.requests {
		if request.ProgramID == programID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) UpdateProgramCurrency(ctx context.Context, programID, requestCurrencyUnitID, paymentCurrencyUnitID int64) error {
	program, ok := t.state.programs[programID]
	if !ok {
		return store.ErrProgramNotFound
	}
	program.RequestCurrencyUnitID = requestCurrencyUnitID
	program.PaymentCurrencyUnitID = paymentCurrencyUnitID
	return nil
}

func (t *memTx) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	var out []domain.Approval
	for _, approval := range t.state.approvals {
		if approval.TransferRequestID == requestID {
			out = append(out, approval)
		}
	}
	return out, nil
}

func (t *memTx) InsertApproval(ctx context.Context, approval domain.Approval) error {
	for _, existing := range t.state.approvals {
		if existing.TransferRequestID == approval.TransferRequestID && existing.GroupID == approval.GroupID {
			return store.ErrDuplicateApproval
		}
	}
	approval.ID = t.state.id()
	approval.CreatedAt = time.Now()
	t.state.approvals = append(t.state.approvals, approval)
	return nil
}

func (t *memTx) deleteApprovals(match func(domain.Approval) bool) []domain.Approval {
	var kept, removed []domain.Approval
	for _, approval := range t.state.approvals {
		if match(approval) {
			removed = append(removed, approval)
			continue
		}
		kept = append(kept, approval)
	}
	t.state.approvals = kept
	return removed
}

func (t *memTx) DeleteApprovals(ctx context.Context, requestID int64) (int64, error) {
	removed := t.deleteApprovals(func(a domain.Approval) bool { return a.TransferRequestID == requestID })
	return int64(len(removed)), nil
}

func (t *memTx) DeleteApprovalsByUserRole(ctx context.Context, requestID, userRoleID int64) (int64, error) {
	removed := t.deleteApprovals(func(a domain.Approval) bool {
		return a.TransferRequestID == requestID && a.UserRoleID == userRoleID
	})
	return int64(len(removed)), nil
}

func (t *memTx) DeleteApprovalsForGroups(ctx context.Context, groupIDs []int64) ([]int64, error) {
	removed := t.deleteApprovals(func(a domain.Approval) bool { return slices.Contains(groupIDs, a.GroupID) })
	var affected []int64
	for _, approval := range removed {
		if !slices.Contains(affected, approval.TransferRequestID) {
			affected = append(affected, approval.TransferRequestID)
		}
	}
	return affected, nil
}

func (t *memTx) InsertReview(ctx context.Context, review domain.Review) error {
	review.ID = t.state.id()
	review.IsActive = true
	review.CreatedAt = time.Now()
	t.state.reviews = append(t.state.reviews, review)
	return nil
}

func (t *memTx) DeactivateReviews(ctx context.Context, requestID int64, statuses []domain.ReviewStatus) (int64, error) {
	var count int64
	for i := range t.state.reviews {
		review := &t.state.reviews[i]
		if review.TransferRequestID == requestID && review.IsActive && slices.Contains(statuses, review.Status) {
			review.IsActive = false
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	for _, entry := range entries {
		entry.ID = t.state.id()
		entry.CreatedAt = time.Now()
		t.state.history = append(t.state.history, entry)
	}
	return nil
}

func (t *memTx) HasProgramGrant(ctx context.Context, userRoleID, programID int64) (bool, error) {
	return t.state.grants[userRoleID][programID], nil
}

func (t *memTx) UserHasActiveRole(ctx context.Context, userID int64, role domain.Role) (bool, error) {
	for _, holder := range t.state.userRoles {
		if holder.userID == userID && holder.role == role {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) RoleHolderIsApprover(ctx context.Context, userRoleID int64) (bool, error) {
	holder, ok := t.state.userRoles[userRoleID]
	if !ok {
		return false, nil
	}
	return t.UserHasActiveRole(ctx, holder.userID, domain.RoleApprover)
}

func (t *memTx) IsWalletOwnedBy(ctx context.Context, walletID, userID int64) (bool, error) {
	owner, ok := t.state.wallets[walletID]
	return ok && owner == userID, nil
}

func (t *memTx) GetUserEmail(ctx context.Context, userID int64) (string, error) {
	email, ok := t.state.emails[userID]
	if !ok {
		return "", store.ErrUserNotFound
	}
	return email, nil
}

func (t *memTx) ListProgramApproverEmails(ctx context.Context, programID int64) ([]string, error) {
	var out []string
	for roleID, programs := range t.state.grants {
		if !programs[programID] {
			continue
		}
		if email, ok := t.state.emails[t.state.userRoles[roleID].userID]; ok && !slices.Contains(out, email) {
			out = append(out, email)
		}
	}
	return out, nil
}

func (t *memTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	if t.repo != nil && t.repo.enqueueErr != nil {
		return t.repo.enqueueErr
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.state.outbox = append(t.state.outbox, outboxRow{
		OutboxMessage: store.OutboxMessage{
			ID:         t.state.id(),
			Exchange:   exchange,
			RoutingKey: routingKey,
			Payload:    body,
		},
		status: "pending",
	})
	return nil
}

func sameMemberSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA, sortedB := slices.Clone(a), slices.Clone(b)
	slices.Sort(sortedA)
	slices.Sort(sortedB)
	return slices.Equal(sortedA, sortedB)
}

// Seeding helpers used by the service tests.

func (m *memRepository) addProgram(program domain.Program) *domain.Program {
	if program.ID == 0 {
		program.ID = m.state.id()
	}
	program.IsActive = true
	for i := range program.ApproverGroups {
		if program.ApproverGroups[i].ID == 0 {
			program.ApproverGroups[i].ID = m.state.id()
		}
		program.ApproverGroups[i].ProgramID = program.ID
		program.ApproverGroups[i].Position = i
	}
	m.state.programs[program.ID] = cloneProgram(&program)
	return &program
}

// addUserRole registers userRoleID as role for userID, with grants on programs.
func (m *memRepository) addUserRole(userID, userRoleID int64, role domain.Role, programs ...int64) {
	m.state.userRoles[userRoleID] = userRole{userID: userID, role: role}
	if len(programs) == 0 {
		return
	}
	if m.state.grants[userRoleID] == nil {
		m.state.grants[userRoleID] = map[int64]bool{}
	}
	for _, programID := range programs {
		m.state.grants[userRoleID][programID] = true
	}
}

func (m *memRepository) addRequest(request domain.TransferRequest) *domain.TransferRequest {
	request.ID = m.state.id()
	if request.PublicID == uuid.Nil {
		request.PublicID = uuid.New()
	}
	request.IsActive = true
	m.state.requests[request.ID] = request.Clone()
	return &request
}

func (m *memRepository) addApproval(requestID, groupID, userRoleID int64) {
	m.state.approvals = append(m.state.approvals, domain.Approval{
		ID:                m.state.id(),
		TransferRequestID: requestID,
		GroupID:           groupID,
		UserRoleID:        userRoleID,
	})
}

func (m *memRepository) request(id int64) *domain.TransferRequest {
	return m.read().requests[id]
}

func (m *memRepository) approvalsFor(requestID int64) []domain.Approval {
	approvals, _ := m.ListApprovals(context.Background(), requestID)
	return approvals
}

func (m *memRepository) historyFor(requestID int64) []domain.HistoryEntry {
	entries, _ := m.ListHistory(context.Background(), requestID)
	return entries
}

func (m *memRepository) activeReviews(requestID int64) []domain.Review {
	var out []domain.Review
	for _, review := range m.read().reviews {
		if review.TransferRequestID == requestID && review.IsActive {
			out = append(out, review)
		}
	}
	return out
}

func (m *memRepository) outboxKeys() []string {
	var keys []string
	for _, row := range m.read().outbox {
		keys = append(keys, row.RoutingKey)
	}
	return keys
}
