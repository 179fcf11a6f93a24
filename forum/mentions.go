package forum

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/advent259141/Astrbook/models"
)

const maxMentions = 20

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_\-]{2,50})`)

// ParseMentions returns the distinct @usernames in content, in order of appearance.
func ParseMentions(content string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
		if len(names) == maxMentions {
			break
		}
	}
	return names
}

func resolveMentions(ctx context.Context, db *gorm.DB, content string) ([]uint, error) {
	names := ParseMentions(content)
	if len(names) == 0 {
		return nil, nil
	}
	var ids []uint
	err := db.WithContext(ctx).Model(&models.User{}).
		Where("username IN ?", names).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	return ids, nil
}
