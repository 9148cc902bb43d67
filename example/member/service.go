package member

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/oligo/txprop"
)

// Service joins members. With OuterTransaction set, both repository calls run inside one
// service-level transaction and propagate onto it according to their own options.
type Service struct {
	tm      *txprop.TxManager
	members *MemberRepository
	logs    *LogRepository
	log     *zap.Logger

	OuterTransaction bool
}

func NewService(tm *txprop.TxManager, members *MemberRepository, logs *LogRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{tm: tm, members: members, logs: logs, log: log}
}

// JoinV1 saves the member and its log. A log failure is returned to the caller.
func (s *Service) JoinV1(ctx context.Context, username string) error {
	return s.run(ctx, func(ctx context.Context) error {
		s.log.Debug("saving member", zap.String("username", username))
		if err := s.members.Save(ctx, &Member{Username: username}); err != nil {
			return err
		}

		s.log.Debug("saving member log", zap.String("username", username))
		return s.logs.Save(ctx, &Log{Message: username})
	})
}

// JoinV2 saves the member and its log but recovers from a log failure so the member join
// succeeds anyway. When the log write joined the outer transaction, the recovered failure
// still dooms it and the caller gets txprop.ErrUnexpectedRollback.
func (s *Service) JoinV2(ctx context.Context, username string) error {
	return s.run(ctx, func(ctx context.Context) error {
		s.log.Debug("saving member", zap.String("username", username))
		if err := s.members.Save(ctx, &Member{Username: username}); err != nil {
			return err
		}

		s.log.Debug("saving member log", zap.String("username", username))
		if err := s.logs.Save(ctx, &Log{Message: username}); err != nil {
			s.log.Info("log save failed, returning normally", zap.String("username", username), zap.Error(err))
		}
		return nil
	})
}

// Lookup reports whether the member and its log exist.
func (s *Service) Lookup(ctx context.Context, username string) (memberFound, logFound bool, err error) {
	if _, err := s.members.Find(ctx, username); err == nil {
		memberFound = true
	} else if !errors.Is(err, ErrNotFound) {
		return false, false, err
	}

	if _, err := s.logs.Find(ctx, username); err == nil {
		logFound = true
	} else if !errors.Is(err, ErrNotFound) {
		return false, false, err
	}

	return memberFound, logFound, nil
}

func (s *Service) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.OuterTransaction {
		return s.tm.Exec(ctx, fn, nil)
	}
	return fn(ctx)
}
