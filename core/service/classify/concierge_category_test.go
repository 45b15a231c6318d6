package classify

import (
	"strings"
	"testing"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

const schoolNewsletterBody = "The school newsletter: our classroom thanks every teacher " +
	"and the principal for the field trip. Homework packets go home Friday."

func TestClassifySchoolMessage(t *testing.T) {
	c := NewCategoryClassifier()
	prefs := domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityBalanced}

	result := c.Classify("Field Trip Friday", schoolNewsletterBody, "office@lincoln.k12.us", prefs)

	if result.PrimaryCategory != domain.CategorySchool {
		t.Errorf("PrimaryCategory = %s, want school", result.PrimaryCategory)
	}
	if !result.ShouldSave {
		t.Error("balanced sensitivity should save a strong school message")
	}
	found := false
	for _, reason := range result.SaveReasons {
		if strings.HasPrefix(reason, string(domain.CategorySchool)+":") {
			found = true
		}
	}
	if !found {
		t.Errorf("SaveReasons = %v, want a school entry", result.SaveReasons)
	}
	if result.Scores[domain.CategorySchool] < 0.75 {
		t.Errorf("school score = %v, want >= 0.75", result.Scores[domain.CategorySchool])
	}
}

func TestClassifyMedicalFormFromSchoolSender(t *testing.T) {
	c := NewCategoryClassifier()
	prefs := domain.CategoryPreferences{
		domain.CategorySchool:  domain.SensitivityBalanced,
		domain.CategoryMedical: domain.SensitivityBroad,
	}

	result := c.Classify("Annual Medical Update Form Due Jan 15",
		"Please return the form by Jan 15.", "teacher@school.edu", prefs)

	if result.PrimaryCategory != domain.CategoryMedical {
		t.Errorf("PrimaryCategory = %s, want medical_health (scores %v)",
			result.PrimaryCategory, result.Scores)
	}
	if result.Scores[domain.CategoryMedical] <= result.Scores[domain.CategorySchool] {
		t.Errorf("medical %v should outrank school %v for a health form",
			result.Scores[domain.CategoryMedical], result.Scores[domain.CategorySchool])
	}
	if !result.ShouldSave {
		t.Errorf("broad medical sensitivity should save score %v",
			result.Scores[domain.CategoryMedical])
	}
	found := false
	for _, reason := range result.SaveReasons {
		if strings.HasPrefix(reason, string(domain.CategoryMedical)+":") {
			found = true
		}
	}
	if !found {
		t.Errorf("SaveReasons = %v, want a medical_health entry", result.SaveReasons)
	}
}

func TestClassifyWeeklyNewsletterSaves(t *testing.T) {
	c := NewCategoryClassifier()
	prefs := domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityBalanced}

	result := c.Classify("Kindergarten Weekly Newsletter (Jan 5-9)",
		"This week we learned about shapes.", "office@school.edu", prefs)

	if result.PrimaryCategory != domain.CategorySchool {
		t.Errorf("PrimaryCategory = %s, want school (scores %v)",
			result.PrimaryCategory, result.Scores)
	}
	if !result.ShouldSave {
		t.Errorf("balanced sensitivity should save a newsletter scoring %v",
			result.Scores[domain.CategorySchool])
	}
}

func TestClassifySensitivityOff(t *testing.T) {
	c := NewCategoryClassifier()
	prefs := domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityOff}

	result := c.Classify("Field Trip Friday", schoolNewsletterBody, "office@lincoln.k12.us", prefs)

	if result.ShouldSave {
		t.Error("a category switched off must never save")
	}
	if len(result.SaveReasons) != 0 {
		t.Errorf("SaveReasons = %v, want none", result.SaveReasons)
	}
}

func TestClassifyConservativeBlocksMidScore(t *testing.T) {
	c := NewCategoryClassifier()
	// Domain plus keywords but a sender with no pattern hits lands around 0.7:
	// broad saves it, conservative does not.
	subject := "Field Trip Friday"
	sender := "noreply@lincoln.k12.us"

	broad := c.Classify(subject, schoolNewsletterBody, sender,
		domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityBroad})
	if !broad.ShouldSave {
		t.Errorf("broad should save at score %v", broad.Scores[domain.CategorySchool])
	}

	conservative := c.Classify(subject, schoolNewsletterBody, sender,
		domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityConservative})
	if conservative.ShouldSave {
		t.Errorf("conservative should block score %v", conservative.Scores[domain.CategorySchool])
	}
}

func TestClassifyNegativeKeywordsPenalize(t *testing.T) {
	c := NewCategoryClassifier()
	subject := "Team practice and game schedule"
	clean := c.Classify(subject, "Coach posted the season league schedule.", "coach@teamsnap.com", nil)
	promo := c.Classify(subject, "Coach posted the season league schedule. Jersey sale, big discount!", "coach@teamsnap.com", nil)

	if promo.Scores[domain.CategorySports] >= clean.Scores[domain.CategorySports] {
		t.Errorf("negative keywords should lower the score: %v >= %v",
			promo.Scores[domain.CategorySports], clean.Scores[domain.CategorySports])
	}
}

func TestClassifyScoreTieBreaksByCategoryOrder(t *testing.T) {
	c := NewCategoryClassifier()
	// Text matching nothing scores every category zero; the tie breaks to the
	// highest-priority category.
	result := c.Classify("zzz", "zzz", "zzz@zzz.zzz", nil)
	if result.PrimaryCategory != domain.AllCategories[0] {
		t.Errorf("PrimaryCategory = %s, want %s", result.PrimaryCategory, domain.AllCategories[0])
	}
	if result.ShouldSave {
		t.Error("an all-zero message must not save")
	}
}

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		sender  string
		pattern string
		want    bool
	}{
		{"office@lincoln.k12.us", "*.k12.us", true},
		{"coach@mail.soccerclub.org", "*.soccerclub.org", true},
		{"coach@soccerclub.org", "*.soccerclub.org", false},
		{"teacher@school.edu", "school.edu", true},
		{"teacher@mail.school.edu", "school.edu", true},
		{"teacher@otherschool.edu", "school.edu", false},
		{"anyone@anywhere.com", "*", true},
		{"", "school.edu", false},
		{"teacher@school.edu", "", false},
	}

	for _, tt := range tests {
		if got := domainMatches(tt.sender, tt.pattern); got != tt.want {
			t.Errorf("domainMatches(%q, %q) = %v, want %v", tt.sender, tt.pattern, got, tt.want)
		}
	}
}
