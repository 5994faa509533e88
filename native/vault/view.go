package vault

// Snapshot returns a deep copy of the vault state for read-only callers.
// Mutating the copy never touches persisted state.
func (e *Engine) Snapshot() (*State, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return cloneState(st), nil
}

func cloneState(s *State) *State {
	out := &State{
		Owner:             s.Owner,
		Index:             s.Index,
		Version:           s.Version,
		LiquidBalance:     cloneBigInt(s.LiquidBalance),
		ActiveValidators:  append([]AccountID(nil), s.ActiveValidators...),
		UnstakeEntries:    make(map[AccountID]*UnstakeEntry, len(s.UnstakeEntries)),
		Refunds:           make(map[uint64]*RefundEntry, len(s.Refunds)),
		RefundNonce:       s.RefundNonce,
		ListedForTakeover: s.ListedForTakeover,
		Calls:             make(map[CallID]*CallIntent, len(s.Calls)),
	}
	for v, entry := range s.UnstakeEntries {
		out.UnstakeEntries[v] = &UnstakeEntry{Amount: cloneBigInt(entry.Amount), Epoch: entry.Epoch}
	}
	if s.PendingRequest != nil {
		p := *s.PendingRequest
		p.Amount = cloneBigInt(s.PendingRequest.Amount)
		p.Interest = cloneBigInt(s.PendingRequest.Interest)
		p.Collateral = cloneBigInt(s.PendingRequest.Collateral)
		out.PendingRequest = &p
	}
	if s.Request != nil {
		r := *s.Request
		r.Amount = cloneBigInt(s.Request.Amount)
		r.Interest = cloneBigInt(s.Request.Interest)
		r.Collateral = cloneBigInt(s.Request.Collateral)
		out.Request = &r
	}
	if len(s.CounterOffers) > 0 {
		out.CounterOffers = make(map[AccountID]*CounterOffer, len(s.CounterOffers))
		for p, offer := range s.CounterOffers {
			out.CounterOffers[p] = &CounterOffer{
				Proposer:  offer.Proposer,
				Amount:    cloneBigInt(offer.Amount),
				Timestamp: offer.Timestamp,
			}
		}
	}
	if s.Accepted != nil {
		a := *s.Accepted
		out.Accepted = &a
	}
	if s.Liquidation != nil {
		out.Liquidation = &Liquidation{Liquidated: cloneBigInt(s.Liquidation.Liquidated)}
	}
	for id, entry := range s.Refunds {
		out.Refunds[id] = &RefundEntry{
			Token:        entry.Token,
			Proposer:     entry.Proposer,
			Amount:       cloneBigInt(entry.Amount),
			AddedAtEpoch: entry.AddedAtEpoch,
		}
	}
	if s.Lock != nil {
		l := *s.Lock
		out.Lock = &l
	}
	for id, intent := range s.Calls {
		c := *intent
		c.Amount = cloneBigInt(intent.Amount)
		c.Validators = append([]AccountID(nil), intent.Validators...)
		if len(intent.Instructions) > 0 {
			c.Instructions = make([]UnstakeInstruction, len(intent.Instructions))
			for i, inst := range intent.Instructions {
				c.Instructions[i] = UnstakeInstruction{
					Validator: inst.Validator,
					Amount:    cloneBigInt(inst.Amount),
					Full:      inst.Full,
				}
			}
		}
		out.Calls[id] = &c
	}
	return out
}
