package assign

import (
	"strings"
	"testing"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

func testMembers() []domain.FamilyMember {
	return []domain.FamilyMember{
		{
			Name:         "Maya",
			Aliases:      []string{"Maya R.", "M. Rodriguez"},
			Grade:        "3",
			GradeAliases: []string{"3rd grade", "Room 12"},
		},
		{
			Name:         "Leo",
			Aliases:      []string{"Leonardo"},
			Grade:        "K",
			GradeAliases: []string{"kindergarten", "Room 3"},
		},
	}
}

func testAssignments() []domain.SourceAssignment {
	return []domain.SourceAssignment{
		{FromDomain: "teamsnap.com", AssignTo: []string{"Maya"}},
		{FromDomain: "lincolnelementary.org", AssignTo: []string{"Maya", "Leo"}},
	}
}

func TestAssign(t *testing.T) {
	a := New(testMembers(), testAssignments(), true)

	tests := []struct {
		name       string
		subject    string
		snippet    string
		domain     string
		wantPerson string
		wantReason domain.AssignmentReason
	}{
		{
			name:       "exact name token",
			subject:    "Maya's field trip form",
			wantPerson: "Maya",
			wantReason: domain.AssignExact,
		},
		{
			name:       "single word alias matches as token",
			subject:    "Leonardo forgot his jacket",
			wantPerson: "Leo",
			wantReason: domain.AssignExact,
		},
		{
			name:       "phrase alias matches as substring",
			subject:    "Report card for Maya R. attached",
			wantPerson: "Maya",
			wantReason: domain.AssignExact,
		},
		{
			name:       "grade alias matches",
			subject:    "3rd grade picture day moved",
			wantPerson: "Maya",
			wantReason: domain.AssignGroup,
		},
		{
			name:       "room alias matches",
			subject:    "Room 12 families: early pickup today",
			wantPerson: "Maya",
			wantReason: domain.AssignGroup,
		},
		{
			name:       "grade word matches as token",
			subject:    "Kindergarten families: welcome picnic",
			wantPerson: "Leo",
			wantReason: domain.AssignGroup,
		},
		{
			name:       "sender domain rule",
			subject:    "Practice schedule",
			domain:     "teamsnap.com",
			wantPerson: "Maya",
			wantReason: domain.AssignSource,
		},
		{
			name:       "sender domain rule fans out to several members",
			subject:    "Spirit week reminders",
			domain:     "lincolnelementary.org",
			wantPerson: "Maya, Leo",
			wantReason: domain.AssignSource,
		},
		{
			name:       "multiple matches join in config order",
			subject:    "Leo and Maya both need forms",
			wantPerson: "Maya, Leo",
			wantReason: domain.AssignExact,
		},
		{
			name:       "strongest reason wins across members",
			subject:    "Maya: kindergarten sibling visit day",
			wantPerson: "Maya, Leo",
			wantReason: domain.AssignExact,
		},
		{
			name:       "no match falls back to shared",
			subject:    "PTA meeting minutes",
			wantPerson: domain.SharedAssignment,
			wantReason: domain.AssignSharedDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assign(tt.subject, tt.snippet, tt.domain)
			if got.Person != tt.wantPerson {
				t.Errorf("Person = %q, want %q", got.Person, tt.wantPerson)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestAssignDisabled(t *testing.T) {
	a := New(testMembers(), testAssignments(), false)

	got := a.Assign("Maya's form", "", "teamsnap.com")
	if got.Person != domain.SharedAssignment {
		t.Errorf("Person = %q, want shared fallback", got.Person)
	}
	if got.Reason != domain.AssignSharedDefault {
		t.Errorf("Reason = %q, want shared_default", got.Reason)
	}
}

func TestAssignTextMatchBeatsDomainRule(t *testing.T) {
	a := New(testMembers(), testAssignments(), true)

	// Leo named in the text, Maya prefilled by the domain rule. Both appear
	// but the text match carries the stronger reason.
	got := a.Assign("Leo's game time changed", "", "teamsnap.com")
	if got.Person != "Maya, Leo" {
		t.Errorf("Person = %q, want both members", got.Person)
	}
	if got.Reason != domain.AssignExact {
		t.Errorf("Reason = %q, want exact", got.Reason)
	}
}

func TestAssignScanBounded(t *testing.T) {
	a := New(testMembers(), nil, true)

	// A name past the snippet cap is invisible to the assigner.
	snippet := strings.Repeat("x ", SnippetCap) + "Maya"
	got := a.Assign("Reminder", snippet, "")
	if got.Person != domain.SharedAssignment {
		t.Errorf("Person = %q, want shared fallback", got.Person)
	}
}

func TestAssignWildcardDomainRule(t *testing.T) {
	a := New(testMembers(), []domain.SourceAssignment{
		{FromDomain: "*.soccerclub.org", AssignTo: []string{"Leo"}},
	}, true)

	got := a.Assign("Saturday lineup", "", "mail.soccerclub.org")
	if got.Person != "Leo" || got.Reason != domain.AssignSource {
		t.Errorf("got %+v, want Leo via source rule", got)
	}
}
