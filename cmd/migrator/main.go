// Точка входа migrator — утилита управления миграциями схемы Storage Core.
// Загружает конфигурацию, подключается к базе данных и выполняет подкоманду:
//
//	status   — состояние миграций (applied / pending) с замечаниями
//	up       — применить ожидающие миграции (все или --steps N)
//	down     — откатить применённые миграции (по умолчанию одну)
//	reset    — откатить всё и применить заново (требует --confirm)
//	generate — создать новую пару up/down файлов миграции
//
// По умолчанию используются миграции, встроенные в бинарник. Флаг --dir
// переключает на каталог на диске — для миграций, ещё не попавших в сборку.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/migrate"
)

var flagDir string

var rootCmd = &cobra.Command{
	Use:     "migrator",
	Short:   "Управление миграциями схемы Storage Core",
	Version: config.Version,
	// Ошибки печатает main единым форматом
	SilenceUsage:  true,
	SilenceErrors: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Показать состояние миграций",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *migrate.Manager, logger *slog.Logger) error {
			report, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, w := range report.Warnings {
				logger.Warn(w)
			}
			if len(report.Entries) == 0 {
				fmt.Println("Миграции не найдены")
				return nil
			}
			for _, e := range report.Entries {
				appliedAt := "-"
				if e.State == migrate.StateApplied {
					appliedAt = time.UnixMilli(e.AppliedAt).UTC().Format(time.RFC3339)
				}
				fmt.Printf("%-17s %-8s %-21s %s\n", e.Version, e.State, appliedAt, e.Description)
			}
			return nil
		})
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Применить ожидающие миграции",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := cmd.Flags().GetInt("steps")
		if err != nil {
			return err
		}
		return withManager(func(ctx context.Context, m *migrate.Manager, logger *slog.Logger) error {
			done, err := m.Up(ctx, steps)
			for _, v := range done {
				fmt.Printf("применена  %s\n", v)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Применено миграций: %d\n", len(done))
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Откатить применённые миграции (по умолчанию одну)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := cmd.Flags().GetInt("steps")
		if err != nil {
			return err
		}
		return withManager(func(ctx context.Context, m *migrate.Manager, logger *slog.Logger) error {
			done, err := m.Down(ctx, steps)
			for _, v := range done {
				fmt.Printf("откатана   %s\n", v)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Откатано миграций: %d\n", len(done))
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Откатить все миграции и применить заново",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, err := cmd.Flags().GetBool("confirm")
		if err != nil {
			return err
		}
		return withManager(func(ctx context.Context, m *migrate.Manager, logger *slog.Logger) error {
			reverted, applied, err := m.Reset(ctx, confirm)
			for _, v := range reverted {
				fmt.Printf("откатана   %s\n", v)
			}
			for _, v := range applied {
				fmt.Printf("применена  %s\n", v)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Схема пересоздана: %d миграций\n", len(applied))
			return nil
		})
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <описание>",
	Short: "Создать новую пару up/down файлов миграции",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// База данных для генерации не нужна
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("загрузка конфигурации: %w", err)
		}
		dir := flagDir
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		gen, err := migrate.Generate(dir, strings.Join(args, " "), time.Now())
		if err != nil {
			return err
		}
		fmt.Println(gen.UpPath)
		fmt.Println(gen.DownPath)
		return nil
	},
}

// withManager выполняет fn с менеджером миграций поверх настроенной
// фабрики сессий.
func withManager(fn func(ctx context.Context, m *migrate.Manager, logger *slog.Logger) error) error {
	ctx := context.Background()

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Migrator запускается",
		slog.String("version", config.Version),
		slog.String("engine", string(cfg.Write.Engine)),
	)

	// 3. Источник миграций: встроенные файлы или каталог --dir
	var src *migrate.Source
	if flagDir != "" {
		src, err = migrate.LoadSource(os.DirFS(flagDir), ".")
		if err != nil {
			return fmt.Errorf("чтение миграций из %s: %w", flagDir, err)
		}
	} else {
		src, err = migrate.DefaultSource()
		if err != nil {
			return fmt.Errorf("чтение встроенных миграций: %w", err)
		}
	}
	for _, w := range src.Warnings() {
		logger.Warn(w)
	}

	// 4. Подключение к базе данных
	factory, err := database.NewSessionFactory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("подключение к базе данных: %w", err)
	}
	defer factory.Close()

	return fn(ctx, migrate.NewManager(factory, src, logger), logger)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "каталог файлов миграций вместо встроенных")
	upCmd.Flags().Int("steps", 0, "сколько миграций применить (0 — все)")
	downCmd.Flags().Int("steps", 1, "сколько миграций откатить")
	resetCmd.Flags().Bool("confirm", false, "подтвердить пересоздание схемы")

	rootCmd.AddCommand(statusCmd, upCmd, downCmd, resetCmd, generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Ошибка выполнения", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
