// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — файл не найден.
	ErrNotFound = errors.New("файл не найден")
	// ErrConflict — конфликт (файл с такой контрольной суммой уже существует).
	ErrConflict = errors.New("конфликт — файл уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
