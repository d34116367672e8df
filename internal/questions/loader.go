package questions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

// Set is a question-set file
type Set struct {
	AttemptID string  `yaml:"attempt_id"`
	Part      string  `yaml:"part,omitempty"`
	Questions []Entry `yaml:"questions" validate:"required,min=1,dive"`
}

// Entry is one question as written in the file
type Entry struct {
	Number      int           `yaml:"number" validate:"gt=0"`
	Prompt      string        `yaml:"prompt" validate:"required"`
	Type        string        `yaml:"type,omitempty"`
	IntroAudio  string        `yaml:"intro_audio,omitempty"`
	PromptAudio string        `yaml:"prompt_audio,omitempty"`
	TimeLimit   time.Duration `yaml:"time_limit,omitempty" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads a question-set file. Relative audio paths resolve against the
// file's directory.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question set: %w", err)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse question set %s: %w", path, err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid question set %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range set.Questions {
		set.Questions[i].IntroAudio = resolve(dir, set.Questions[i].IntroAudio)
		set.Questions[i].PromptAudio = resolve(dir, set.Questions[i].PromptAudio)
	}
	sort.SliceStable(set.Questions, func(i, j int) bool {
		return set.Questions[i].Number < set.Questions[j].Number
	})
	return &set, nil
}

func (s *Set) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed '%s' check", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return err
	}

	seen := make(map[int]bool, len(s.Questions))
	for i, q := range s.Questions {
		if seen[q.Number] {
			return fmt.Errorf("questions[%d].number: duplicate question number %d", i, q.Number)
		}
		seen[q.Number] = true
		if strings.TrimSpace(q.Prompt) == "" {
			return fmt.Errorf("questions[%d].prompt: cannot be blank", i)
		}
	}
	return nil
}

// Session converts the entries into controller questions
func (s *Set) Session() []session.Question {
	out := make([]session.Question, len(s.Questions))
	for i, q := range s.Questions {
		out[i] = session.Question{
			Number:         q.Number,
			Prompt:         q.Prompt,
			Type:           q.Type,
			IntroAudioURL:  q.IntroAudio,
			PromptAudioURL: q.PromptAudio,
			TimeLimit:      q.TimeLimit,
		}
	}
	return out
}

// WithAttempt overrides the attempt id when attemptID is set
func (s *Set) WithAttempt(attemptID string) *Set {
	if attemptID != "" {
		s.AttemptID = attemptID
	}
	return s
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(dir, p)
}

// fieldPath drops the root type from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
