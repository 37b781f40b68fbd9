package dao

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
)

// supermajorityNum/Den encode the strict > 80% early-closure bound. Integer
// cross-multiplication keeps the 80.0% boundary exact.
const (
	supermajorityNum = 5
	supermajorityDen = 4
)

// Service owns DAOs, proposals and votes.
type Service struct {
	mu        sync.Mutex
	daos      map[string]*DAO
	proposals map[string]*Proposal
	votes     map[string]map[string]Vote // proposal ID -> voter -> vote

	identity ports.Identity
	wallet   ports.Wallet
	audit    ports.Audit
	bus      ports.EventBus
	clock    clock.Clock
	ids      clock.IDGenerator
	logger   *log.Logger
}

// NewService wires a DAO service. Audit and bus may be nil.
func NewService(identity ports.Identity, wallet ports.Wallet, audit ports.Audit,
	bus ports.EventBus, clk clock.Clock, ids clock.IDGenerator, logger *log.Logger) *Service {
	return &Service{
		daos:      make(map[string]*DAO),
		proposals: make(map[string]*Proposal),
		votes:     make(map[string]map[string]Vote),
		identity:  identity,
		wallet:    wallet,
		audit:     audit,
		bus:       bus,
		clock:     clk,
		ids:       ids,
		logger:    logger,
	}
}

// RegisterDAO adds a DAO to the registry.
func (s *Service) RegisterDAO(dao DAO) error {
	if err := dao.validate(); err != nil {
		return err
	}
	dao.Weights = dao.Weights.fill()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.daos[dao.ID]; exists {
		return fault.New(fault.KindConflict, "dao.register", "dao "+dao.ID+" already exists")
	}
	s.daos[dao.ID] = &dao
	return nil
}

// DAOByID returns a copy of a registered DAO.
func (s *Service) DAOByID(daoID string) (*DAO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dao, ok := s.daos[daoID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "dao.get", "dao "+daoID)
	}
	out := *dao
	return &out, nil
}

// ProposalRequest describes a new proposal.
type ProposalRequest struct {
	DAOID       string
	Title       string
	Description string
	Options     []string
	Creator     string
	Duration    time.Duration // overrides the DAO voting duration when set
	Quorum      int           // overrides the DAO quorum when set
}

// CreateProposal opens a proposal. The creator must be a DAO member and
// meet the DAO's token requirement.
func (s *Service) CreateProposal(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	const op = "dao.propose"

	s.mu.Lock()
	dao, ok := s.daos[req.DAOID]
	s.mu.Unlock()
	if !ok {
		return nil, fault.New(fault.KindNotFound, op, "dao "+req.DAOID)
	}
	if !dao.Active {
		return nil, fault.New(fault.KindConflict, op, "dao "+req.DAOID+" is inactive")
	}
	if req.Title == "" {
		return nil, fault.New(fault.KindValidation, op, "title is required")
	}
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}

	member, err := s.identity.IsMember(ctx, req.Creator, dao.ID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "membership check", err)
	}
	if !member {
		s.auditLog(ctx, "dao.proposal.denied", req.Creator, req.DAOID, "denied",
			map[string]string{"reason": "not_a_member"})
		return nil, fault.New(fault.KindAuthorizationDenied, op,
			req.Creator+" is not a member of "+dao.ID)
	}
	if dao.TokenGate != nil {
		balance, err := s.wallet.Balance(ctx, req.Creator, dao.TokenGate.Currency)
		if err != nil {
			return nil, fault.Wrap(fault.KindTimeout, op, "balance check", err)
		}
		if balance.LessThan(dao.TokenGate.MinAmount) {
			s.auditLog(ctx, "dao.proposal.denied", req.Creator, req.DAOID, "denied",
				map[string]string{"reason": "below_token_requirement"})
			return nil, fault.New(fault.KindAuthorizationDenied, op,
				req.Creator+" holds less than the required "+dao.TokenGate.MinAmount.String()+
					" "+dao.TokenGate.Currency)
		}
	}

	duration := dao.VotingDuration
	if req.Duration > 0 {
		duration = req.Duration
	}
	quorum := dao.Quorum
	if req.Quorum > 0 {
		quorum = req.Quorum
	}
	now := s.clock.NowMillis()

	proposal := &Proposal{
		ID:          s.ids.New(),
		DAOID:       dao.ID,
		Title:       req.Title,
		Description: req.Description,
		Options:     append([]string(nil), req.Options...),
		Creator:     req.Creator,
		CreatedAt:   now,
		ExpiresAt:   now + duration.Milliseconds(),
		Status:      ProposalActive,
		Quorum:      quorum,
		Results:     make(map[string]OptionTally, len(req.Options)),
	}
	for _, option := range req.Options {
		proposal.Results[option] = OptionTally{}
	}

	s.mu.Lock()
	s.proposals[proposal.ID] = proposal
	s.votes[proposal.ID] = make(map[string]Vote)
	s.mu.Unlock()

	s.auditLog(ctx, "dao.proposal.created", req.Creator, proposal.ID, "ok", nil)
	s.emit("dao.proposal.created", req.Creator, map[string]any{
		"proposal_id": proposal.ID,
		"dao_id":      dao.ID,
		"expires_at":  proposal.ExpiresAt,
	})
	out := *proposal
	return &out, nil
}

// VoteRequest describes one vote.
type VoteRequest struct {
	ProposalID string
	Voter      string
	Option     string
	Signature  []byte
}

// CastVote verifies and records a vote, then evaluates the closure rules.
// A vote arriving at or after the proposal deadline closes the proposal
// and is rejected.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (*Vote, error) {
	const op = "dao.vote"

	s.mu.Lock()
	proposal, ok := s.proposals[req.ProposalID]
	if !ok {
		s.mu.Unlock()
		return nil, fault.New(fault.KindNotFound, op, "proposal "+req.ProposalID)
	}
	dao := s.daos[proposal.DAOID]
	now := s.clock.NowMillis()
	if proposal.Status == ProposalClosed {
		s.mu.Unlock()
		return nil, fault.New(fault.KindConflict, op, "proposal "+proposal.ID+" is closed")
	}
	if now >= proposal.ExpiresAt {
		s.closeLocked(ctx, proposal, "expired")
		s.mu.Unlock()
		return nil, fault.New(fault.KindConflict, op, "proposal "+proposal.ID+" has expired")
	}
	if _, voted := s.votes[proposal.ID][req.Voter]; voted {
		s.mu.Unlock()
		return nil, fault.New(fault.KindConflict, op,
			req.Voter+" already voted on "+proposal.ID)
	}
	if !contains(proposal.Options, req.Option) {
		s.mu.Unlock()
		return nil, fault.New(fault.KindValidation, op,
			"option "+req.Option+" is not on proposal "+proposal.ID)
	}
	s.mu.Unlock()

	member, err := s.identity.IsMember(ctx, req.Voter, proposal.DAOID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "membership check", err)
	}
	if !member {
		s.auditLog(ctx, "dao.vote.denied", req.Voter, proposal.ID, "denied",
			map[string]string{"reason": "not_a_member"})
		return nil, fault.New(fault.KindAuthorizationDenied, op,
			req.Voter+" is not a member of "+proposal.DAOID)
	}

	verified, err := s.identity.VerifySignature(ctx, req.Voter,
		votePayload(proposal.ID, req.Option), req.Signature)
	if err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, "signature verification", err)
	}
	if !verified {
		s.auditLog(ctx, "dao.vote.denied", req.Voter, proposal.ID, "denied",
			map[string]string{"reason": "bad_signature"})
		return nil, fault.New(fault.KindAuthorizationDenied, op,
			"signature for "+req.Voter+" did not verify")
	}

	weight, err := s.voteWeight(ctx, dao, req.Voter)
	if err != nil {
		return nil, err
	}

	vote := Vote{
		ID:         s.ids.New(),
		ProposalID: proposal.ID,
		Voter:      req.Voter,
		Option:     req.Option,
		Weight:     weight,
		Signature:  req.Signature,
		Timestamp:  s.clock.NowMillis(),
		Verified:   true,
	}

	s.mu.Lock()
	// Re-check under the lock: the proposal may have closed or the voter
	// may have raced a duplicate while capability calls were in flight.
	if proposal.Status == ProposalClosed {
		s.mu.Unlock()
		return nil, fault.New(fault.KindConflict, op, "proposal "+proposal.ID+" is closed")
	}
	if _, voted := s.votes[proposal.ID][req.Voter]; voted {
		s.mu.Unlock()
		return nil, fault.New(fault.KindConflict, op,
			req.Voter+" already voted on "+proposal.ID)
	}
	s.votes[proposal.ID][req.Voter] = vote
	tally := proposal.Results[req.Option]
	tally.Count++
	tally.Weight += weight
	proposal.Results[req.Option] = tally
	proposal.VoteCount++
	s.evaluateClosureLocked(ctx, proposal)
	s.mu.Unlock()

	s.auditLog(ctx, "dao.vote.cast", req.Voter, proposal.ID, "ok",
		map[string]string{"option": req.Option})
	s.emit("dao.vote.cast", req.Voter, map[string]any{
		"proposal_id": proposal.ID,
		"option":      req.Option,
		"weight":      weight,
	})
	return &vote, nil
}

// voteWeight applies the DAO's weight rules to the voter's holdings.
func (s *Service) voteWeight(ctx context.Context, dao *DAO, voter string) (int64, error) {
	const op = "dao.vote"
	if dao.TokenGate != nil {
		balance, err := s.wallet.Balance(ctx, voter, dao.TokenGate.Currency)
		if err != nil {
			return 0, fault.Wrap(fault.KindTimeout, op, "balance lookup", err)
		}
		return balance.Floor().IntPart() * dao.Weights.PerToken, nil
	}
	nfts, err := s.wallet.ListNFTs(ctx, voter)
	if err != nil {
		return 0, fault.Wrap(fault.KindTimeout, op, "nft lookup", err)
	}
	if len(nfts) > 0 {
		return int64(len(nfts)) * dao.Weights.PerNFT, nil
	}
	return dao.Weights.Base, nil
}

// evaluateClosureLocked applies the closure rules after a vote. Caller
// holds the service lock.
func (s *Service) evaluateClosureLocked(ctx context.Context, proposal *Proposal) {
	now := s.clock.NowMillis()
	if now >= proposal.ExpiresAt {
		s.closeLocked(ctx, proposal, "expired")
		return
	}
	if proposal.VoteCount < proposal.Quorum {
		return
	}
	var maxWeight, totalWeight int64
	for _, tally := range proposal.Results {
		totalWeight += tally.Weight
		if tally.Weight > maxWeight {
			maxWeight = tally.Weight
		}
	}
	// Strictly above 80%: 80.0% exactly does not close early.
	if totalWeight > 0 && maxWeight*supermajorityNum > totalWeight*supermajorityDen {
		s.closeLocked(ctx, proposal, "supermajority")
	}
}

// closeLocked freezes a proposal. Caller holds the service lock.
func (s *Service) closeLocked(ctx context.Context, proposal *Proposal, reason string) {
	if proposal.Status == ProposalClosed {
		return
	}
	proposal.Status = ProposalClosed
	proposal.CloseReason = reason
	proposal.ClosedAt = s.clock.NowMillis()

	winner, share := proposal.Winner()
	s.auditLog(ctx, "dao.proposal.closed", "", proposal.ID, "ok",
		map[string]string{"reason": reason, "winner": winner})
	s.emit("dao.proposal.closed", "", map[string]any{
		"proposal_id": proposal.ID,
		"dao_id":      proposal.DAOID,
		"reason":      reason,
		"winner":      winner,
		"share":       share,
		"vote_count":  proposal.VoteCount,
	})
}

// CloseExpired closes every active proposal past its deadline.
func (s *Service) CloseExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.NowMillis()
	closed := 0
	for _, proposal := range s.proposals {
		if proposal.Status == ProposalActive && now >= proposal.ExpiresAt {
			s.closeLocked(ctx, proposal, "expired")
			closed++
		}
	}
	return closed
}

// GetProposal returns a copy of a proposal.
func (s *Service) GetProposal(proposalID string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "dao.get", "proposal "+proposalID)
	}
	out := *proposal
	out.Options = append([]string(nil), proposal.Options...)
	out.Results = make(map[string]OptionTally, len(proposal.Results))
	for option, tally := range proposal.Results {
		out.Results[option] = tally
	}
	return &out, nil
}

// Votes returns copies of the verified votes on a proposal.
func (s *Service) Votes(proposalID string) []Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Vote, 0, len(s.votes[proposalID]))
	for _, vote := range s.votes[proposalID] {
		out = append(out, vote)
	}
	return out
}

// votePayload is the byte string a voter signs.
func votePayload(proposalID, option string) []byte {
	return []byte(proposalID + ":" + option)
}

func validateOptions(options []string) error {
	const op = "dao.propose"
	if len(options) < 2 {
		return fault.New(fault.KindValidation, op, "a proposal needs at least two options")
	}
	seen := make(map[string]bool, len(options))
	for _, option := range options {
		if option == "" {
			return fault.New(fault.KindValidation, op, "options must be non-empty")
		}
		if seen[option] {
			return fault.New(fault.KindValidation, op, "duplicate option "+option)
		}
		seen[option] = true
	}
	return nil
}

func contains(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}

func (s *Service) auditLog(ctx context.Context, action, actor, resource, outcome string, details map[string]string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, ports.AuditEvent{
		ID:            s.ids.New(),
		Action:        action,
		Actor:         actor,
		Resource:      resource,
		Outcome:       outcome,
		CorrelationID: resource,
		Details:       details,
		Timestamp:     s.clock.NowMillis(),
	})
}

func (s *Service) emit(topic, actor string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(topic, ports.Envelope{
		ID:        s.ids.New(),
		Topic:     topic,
		Timestamp: s.clock.NowMillis(),
		Actor:     ports.Actor{Identity: actor, Role: "member"},
		Payload:   payload,
	})
}
