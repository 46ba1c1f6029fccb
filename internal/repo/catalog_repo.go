// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only lookups for the catalog
// the analysis pipeline consumes: users, categories, advice and stored
// preference answers. Managing that content is another service's concern.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// PreferenceAnswer joins a user's stored answer codes with the question
// that defines their labels.
type PreferenceAnswer struct {
	Question domain.PreferenceQuestion
	Answers  []string
}

// GetUser fetches a user by id or returns ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetCategory fetches a category by id or returns ErrNotFound.
func GetCategory(ctx context.Context, db *gorm.DB, id string) (*domain.Category, error) {
	var c domain.Category
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetAdvice fetches an advice entry scoped to its category or returns
// ErrNotFound.
func GetAdvice(ctx context.Context, db *gorm.DB, id, categoryID string) (*domain.Advice, error) {
	var a domain.Advice
	err := db.WithContext(ctx).
		Where("id = ? AND category_id = ?", id, categoryID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListPreferenceAnswers returns the user's answers in question order.
// Answers whose question no longer exists are skipped.
func ListPreferenceAnswers(ctx context.Context, db *gorm.DB, userID string) ([]PreferenceAnswer, error) {
	var prefs []domain.UserPreference
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Find(&prefs).Error; err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(prefs))
	byKey := make(map[string][]string, len(prefs))
	for _, p := range prefs {
		keys = append(keys, p.QuestionKey)
		byKey[p.QuestionKey] = p.Answers
	}

	var qs []domain.PreferenceQuestion
	if err := db.WithContext(ctx).
		Where("key IN ?", keys).
		Order("position").
		Order("key").
		Find(&qs).Error; err != nil {
		return nil, err
	}
	out := make([]PreferenceAnswer, 0, len(qs))
	for _, q := range qs {
		out = append(out, PreferenceAnswer{Question: q, Answers: byKey[q.Key]})
	}
	return out, nil
}
