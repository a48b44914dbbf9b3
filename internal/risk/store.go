package risk

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/persistence"
)

const stateStorePrefix = "risk_state"

// StateStore 把 RiskState 按 UTC 日期存到 persistence.Service（badger 后端带 TTL 保留期）
type StateStore struct {
	svc persistence.Service
	id  string
}

// NewStateStore id 区分同一存储里的多个引擎实例
func NewStateStore(svc persistence.Service, id string) *StateStore {
	if id == "" {
		id = "default"
	}
	return &StateStore{svc: svc, id: id}
}

func (s *StateStore) LoadRiskState(_ context.Context, dayKey string) (*domain.RiskState, error) {
	var st domain.RiskState
	err := s.svc.NewStore(stateStorePrefix, s.id, dayKey).Load(&st)
	if stderrors.Is(err, persistence.ErrNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load risk state %s", dayKey)
	}
	st.EnsureMaps()
	return &st, nil
}

func (s *StateStore) SaveRiskState(_ context.Context, st domain.RiskState) error {
	if st.DayKey == "" {
		return errors.New("risk state without day key")
	}
	return errors.Wrapf(s.svc.NewStore(stateStorePrefix, s.id, st.DayKey).Save(st), "save risk state %s", st.DayKey)
}
