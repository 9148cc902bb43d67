// Package member is a small application built on txprop: joining a member saves a member
// row and an audit log row through two repositories, each running in its own logical
// transaction, optionally inside an outer service transaction.
package member

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("member: not found")

	// ErrLogFailure is raised by LogRepository.Save for messages containing a failure marker.
	ErrLogFailure = errors.New("member: log save failed")
)

// Failure markers that make LogRepository.Save fail after inserting.
var logFailureMarkers = []string{"로그예외", "logException"}

type Member struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
}

type Log struct {
	ID      int64  `db:"id" json:"id"`
	Message string `db:"message" json:"message"`
}

func shouldFailLog(message string) bool {
	for _, marker := range logFailureMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
