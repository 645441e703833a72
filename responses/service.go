// Package responses stores the user's free-text answer per life category and
// walks new users through the intro questions in a fixed order.
package responses

import (
	"context"
	"strings"
	"time"

	"visualize-backend/apperr"

	"github.com/sirupsen/logrus"
)

const maxResponseLen = 4000

type Service struct {
	repo  *Repository
	cache Cache
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(repo *Repository, cache Cache, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, cache: cache, log: log, now: time.Now}
}

func validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidInput("please enter a response")
	}
	if len(text) > maxResponseLen {
		return "", apperr.InvalidInput("response is too long")
	}
	return text, nil
}

// SubmitStep saves one intro answer and returns the route of the next step.
func (s *Service) SubmitStep(ctx context.Context, userID string, cat Category, text string) (*Response, string, error) {
	if !cat.InFlow() {
		return nil, "", apperr.InvalidInput("category is not part of the intro questions")
	}
	resp, err := s.Edit(ctx, userID, cat, text)
	if err != nil {
		return nil, "", err
	}
	return resp, cat.Next(), nil
}

// Edit overwrites the current answer for the category, inserting the first one.
func (s *Service) Edit(ctx context.Context, userID string, cat Category, text string) (*Response, error) {
	text, err := validate(text)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Latest(ctx, userID, cat)
	if err != nil {
		return nil, apperr.RemoteWrite("load response", err)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	var saved *Response
	if current == nil {
		if saved, err = s.repo.Insert(ctx, userID, cat, text, now); err != nil {
			return nil, apperr.RemoteWrite("save response", err)
		}
	} else {
		if err := s.repo.Update(ctx, current.ID, text, now); err != nil {
			return nil, apperr.RemoteWrite("save response", err)
		}
		current.Response = text
		current.UpdatedAt = now
		saved = current
	}
	s.invalidate(ctx, userID)
	s.log.WithFields(logrus.Fields{"user_id": userID, "category": cat, "created": current == nil}).Debug("[responses][save]")
	return saved, nil
}

// Latest returns the current answer per category, served from the cache when warm.
func (s *Service) Latest(ctx context.Context, userID string) (Answers, error) {
	if s.cache != nil {
		if answers, ok := s.cache.Get(ctx, userID); ok {
			return answers, nil
		}
	}
	answers, err := s.repo.LatestAll(ctx, userID)
	if err != nil {
		return nil, apperr.RemoteWrite("load responses", err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, userID, answers)
	}
	return answers, nil
}

func (s *Service) Get(ctx context.Context, userID string, cat Category) (*Response, error) {
	answers, err := s.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp, ok := answers[cat]
	if !ok {
		return nil, apperr.NotFound("no response for " + string(cat))
	}
	return &resp, nil
}

func (s *Service) History(ctx context.Context, userID string, cat Category) ([]Response, error) {
	list, err := s.repo.History(ctx, userID, cat)
	if err != nil {
		return nil, apperr.RemoteWrite("load responses", err)
	}
	return list, nil
}

// Invalidate drops the user's cached answers; logout calls it.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.Invalidate(ctx, userID); err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Warn("[responses][cache] invalidation failed")
	}
}
