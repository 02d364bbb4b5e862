// Package repository содержит реализации хранилищ друзей и расходов: PostgreSQL, MongoDB и в памяти.
package repository

import (
	"fmt"
	"slices"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mmeshcher/friendledger/internal/model"
)

var (
	// ErrFriendNotFound возвращается, если друг не найден.
	ErrFriendNotFound = fmt.Errorf("friend %w", model.ErrNotFound)
	// ErrExpenseNotFound возвращается, если расход не найден.
	ErrExpenseNotFound = fmt.Errorf("expense %w", model.ErrNotFound)
)

const avatarBaseURL = "https://i.pravatar.cc/150?u="

// DefaultAvatarURL строит детерминированный адрес аватара по идентификатору друга.
func DefaultAvatarURL(id string) string {
	suffix := id
	if len(id) >= 8 {
		suffix = id[len(id)-8:]
	}
	return avatarBaseURL + suffix
}

// sortFriendsByName упорядочивает друзей по имени с учётом правил английской локали.
func sortFriendsByName(friends []model.Friend) {
	c := collate.New(language.English)
	slices.SortStableFunc(friends, func(a, b model.Friend) int {
		return c.CompareString(a.Name, b.Name)
	})
}

func now() time.Time {
	return time.Now().UTC()
}
