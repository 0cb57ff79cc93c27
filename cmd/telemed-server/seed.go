package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telemed/telemed/internal/domain/scheduling"
)

var specialties = []string{
	"Medicina General",
	"Dermatología",
	"Cardiología",
	"Pediatría",
	"Psiquiatría",
	"Endocrinología",
	"Nutrición",
	"Neurología",
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with fake doctors, patients and schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetUint64("seed")

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := scheduling.NewService(
				scheduling.NewScheduleRepoPG(pool),
				scheduling.NewAppointmentRepoPG(pool),
				scheduling.NewUserRepoPG(pool),
				scheduling.WithLogger(logger),
			)
			defer svc.Close()
			s := &seeder{
				faker: gofakeit.New(seed),
				users: scheduling.NewUserRepoPG(pool),
				svc:   svc,
				log:   logger,
			}
			if err := s.run(ctx, doctors, patients); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Printf("Seeded %d doctor(s) and %d patient(s).\n", doctors, patients)
			return nil
		},
	}
	cmd.Flags().Int("doctors", 10, "Number of doctors to create")
	cmd.Flags().Int("patients", 50, "Number of patients to create")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 picks one at random)")
	return cmd
}

type seeder struct {
	faker *gofakeit.Faker
	users scheduling.UserRepository
	svc   *scheduling.Service
	log   zerolog.Logger
}

func (s *seeder) run(ctx context.Context, doctors, patients int) error {
	for i := 0; i < doctors; i++ {
		doc := &scheduling.User{
			Name:      "Dr. " + s.faker.Name(),
			Email:     s.faker.Email(),
			Role:      scheduling.RoleDoctor,
			Specialty: specialties[s.faker.Number(0, len(specialties)-1)],
		}
		if err := s.users.Create(ctx, doc); err != nil {
			return fmt.Errorf("create doctor: %w", err)
		}
		// Roughly a third keep the default schedule.
		if s.faker.Number(0, 2) == 0 {
			s.log.Info().Str("doctor_id", doc.ID.String()).Msg("seeded doctor on default schedule")
			continue
		}
		actor := scheduling.Actor{ID: doc.ID, Roles: []string{string(scheduling.RoleDoctor)}}
		if _, err := s.svc.SaveSchedule(ctx, actor, fakeSchedule(s.faker, doc.ID)); err != nil {
			return fmt.Errorf("save schedule for %s: %w", doc.ID, err)
		}
		s.log.Info().Str("doctor_id", doc.ID.String()).Str("specialty", doc.Specialty).Msg("seeded doctor")
	}

	for i := 0; i < patients; i++ {
		p := &scheduling.User{
			Name:  s.faker.Name(),
			Email: s.faker.Email(),
			Role:  scheduling.RolePatient,
		}
		if err := s.users.Create(ctx, p); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
	}
	s.log.Info().Int("count", patients).Msg("seeded patients")
	return nil
}

var seedDurations = []int{15, 20, 30, 45, 60}

// fakeSchedule varies the default schedule: duration, booking policy, and
// whether the doctor works Saturdays or a late Wednesday shift.
func fakeSchedule(f *gofakeit.Faker, doctorID uuid.UUID) *scheduling.ScheduleConfiguration {
	cfg := scheduling.DefaultSchedule(doctorID)
	cfg.ConsultationDurationMinutes = seedDurations[f.Number(0, len(seedDurations)-1)]
	cfg.MinAdvanceBookingHours = f.Number(0, 24)
	cfg.AllowBookingDaysInAdvanceMax = f.Number(14, 90)

	for i := range cfg.WeeklySchedule {
		day := &cfg.WeeklySchedule[i]
		switch day.DayOfWeek {
		case time.Saturday:
			if f.Bool() {
				day.IsAvailable = false
				day.TimeSlots = []scheduling.Window{}
			}
		case time.Wednesday:
			if f.Bool() {
				day.TimeSlots = append(day.TimeSlots, scheduling.Window{Start: 19 * 60, End: 21 * 60})
			}
		}
	}
	return cfg
}
