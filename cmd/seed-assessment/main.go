package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

type seedQuestion struct {
	Type    model.QuestionType
	Text    string
	Options []string
}

var demoQuestions = []seedQuestion{
	{Type: model.QuestionTypeMultipleChoice, Text: "Berapakah hasil dari 1/2 + 1/4?", Options: []string{"1/6", "2/6", "3/4", "1"}},
	{Type: model.QuestionTypeMultipleChoice, Text: "Protokol apa yang digunakan untuk mengirim email?", Options: []string{"HTTP", "SMTP", "FTP", "SSH"}},
	{Type: model.QuestionTypeCode, Text: "Tulis fungsi yang mengembalikan jumlah elemen sebuah slice int."},
	{Type: model.QuestionTypeEssay, Text: "Jelaskan perbedaan antara TCP dan UDP."},
}

func main() {
	var (
		assessmentType string
		minutes        int
		studentID      int
		classID        int
	)
	flag.StringVar(&assessmentType, "type", string(model.AssessmentTypeQuiz), "Assessment type: quiz or test")
	flag.IntVar(&minutes, "minutes", 10, "Time limit in minutes")
	flag.IntVar(&studentID, "student", 1, "Student id to mint a token for (0 skips the token)")
	flag.IntVar(&classID, "class", 1, "Class id stored in the token")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	typ := model.AssessmentType(assessmentType)
	if !typ.Valid() {
		log.Fatal().Str("type", assessmentType).Msg("Unknown assessment type")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	var assessmentID string
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		title := fmt.Sprintf("Demo %s %s", typ, time.Now().Format("2006-01-02 15:04"))
		if err := tx.QueryRow(ctx,
			`INSERT INTO exams (title, assessment_type, duration_minutes, status)
			 VALUES ($1, $2, $3, 'PUBLISHED') RETURNING id`,
			title, typ, minutes,
		).Scan(&assessmentID); err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}

		for i, q := range demoQuestions {
			var options []byte
			if len(q.Options) > 0 {
				if options, err = json.Marshal(q.Options); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO questions (exam_id, question_text, question_type, options, order_num)
				 VALUES ($1, $2, $3, $4, $5)`,
				assessmentID, q.Text, q.Type, options, i+1,
			); err != nil {
				return fmt.Errorf("insert question %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed assessment")
	}

	fmt.Println("=== Demo assessment seeded ===")
	fmt.Printf("Type:      %s\n", typ)
	fmt.Printf("ID:        %s\n", assessmentID)
	fmt.Printf("Questions: %d\n", len(demoQuestions))

	if studentID == 0 {
		return
	}

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	auth := service.NewAuthService(cfg, rdb)
	token, err := auth.SignStudentToken(studentID, classID, 12*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read back token")
	}
	if err := auth.RegisterLogin(ctx, claims); err != nil {
		log.Fatal().Err(err).Msg("Failed to register login")
	}

	fmt.Printf("Student:   %d\n", studentID)
	fmt.Printf("Token:     %s\n", token)
	fmt.Printf("Open:      POST /api/v1/student/assessments/%s/%s/open\n", typ, assessmentID)
}
