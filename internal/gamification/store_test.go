package gamification

import (
	"strings"
	"testing"
)

func TestInsertCheckSQL_ScopedToOwner(t *testing.T) {
	for _, want := range []string{
		"WHERE EXISTS",
		"JOIN sub_goals sg ON sg.id = a.sub_goal_id",
		"JOIN mandalarts m ON m.id = sg.mandalart_id",
		"a.id = $2::uuid AND m.user_id = $3::uuid",
	} {
		if !strings.Contains(insertCheckSQL, want) {
			t.Errorf("insertCheckSQL missing %q", want)
		}
	}
}
