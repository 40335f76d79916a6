package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Account is a candidate portal login that competes for a slot.
type Account struct {
	Email      string `json:"email" yaml:"email"`
	Password   string `json:"password" yaml:"password"`
	Antenna    int    `json:"antenna" yaml:"antenna"`
	Motivation int    `json:"motivation" yaml:"motivation"`
	Exam       int    `json:"exam" yaml:"exam"`
	Reserved   bool   `json:"reserved" yaml:"reserved"`
}

// WithDefaults fills zero codes with the portal defaults.
func (a Account) WithDefaults() Account {
	a.Email = strings.TrimSpace(a.Email)
	if a.Antenna == 0 {
		a.Antenna = DefaultAntenna
	}
	if a.Motivation == 0 {
		a.Motivation = DefaultMotivation
	}
	if a.Exam == 0 {
		a.Exam = DefaultExam
	}
	return a
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Email) == "" {
		return errors.New("email is required")
	}
	if a.Password == "" {
		return errors.New("password is required")
	}
	if _, ok := Antennas[a.Antenna]; !ok {
		return fmt.Errorf("unknown antenna %d", a.Antenna)
	}
	if _, ok := Motivations[a.Motivation]; !ok {
		return fmt.Errorf("unknown motivation %d", a.Motivation)
	}
	if _, ok := Exams[a.Exam]; !ok {
		return fmt.Errorf("unknown exam %d", a.Exam)
	}
	return nil
}

// ExamTitle is the event title this account is allowed to book.
func (a Account) ExamTitle() string {
	return ExamTitle(a.Exam)
}
