package admin

import (
	"errors"
	"strings"

	"dojo-backend/internal/database"
	"dojo-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type DojoResponse struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	CreditorName string `json:"creditor_name"`
	Address      string `json:"address"`
	CreatedAt    string `json:"created_at"`
}

type CreateDojoRequest struct {
	Name         string `json:"name"`
	CreditorName string `json:"creditor_name"`
	Address      string `json:"address"`
}

type UpdateDojoRequest struct {
	Name         *string `json:"name"`
	CreditorName *string `json:"creditor_name"`
	Address      *string `json:"address"`
}

type CreateDojoUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"` // dojo_admin (default) or staff
}

type DojoUserResponse struct {
	ID        uint            `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	DojoID    *uint           `json:"dojo_id"`
	CreatedAt string          `json:"created_at"`
}

func toDojoResponse(d models.Dojo) DojoResponse {
	return DojoResponse{
		ID:           d.ID,
		Name:         d.Name,
		CreditorName: d.CreditorName,
		Address:      d.Address,
		CreatedAt:    d.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// POST /api/admin/dojos
func CreateDojoHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateDojoRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "dojo name is required")
		}

		dojo := models.Dojo{
			Name:         body.Name,
			CreditorName: strings.TrimSpace(body.CreditorName),
			Address:      body.Address,
		}
		if err := database.DB.Create(&dojo).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "a dojo with this name exists")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "could not create dojo")
		}

		return c.Status(fiber.StatusCreated).JSON(toDojoResponse(dojo))
	}
}

// GET /api/admin/dojos
func ListDojosHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var dojos []models.Dojo
		if err := database.DB.Order("name ASC").Find(&dojos).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list dojos")
		}

		res := make([]DojoResponse, 0, len(dojos))
		for _, d := range dojos {
			res = append(res, toDojoResponse(d))
		}
		return c.JSON(res)
	}
}

// PUT /api/admin/dojos/:id
func UpdateDojoHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var dojo models.Dojo
		if err := database.DB.First(&dojo, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "dojo not found")
		}

		var body UpdateDojoRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "dojo name is required")
			}
			dojo.Name = name
		}
		if body.CreditorName != nil {
			dojo.CreditorName = strings.TrimSpace(*body.CreditorName)
		}
		if body.Address != nil {
			dojo.Address = *body.Address
		}

		if err := database.DB.Save(&dojo).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update dojo")
		}
		return c.JSON(toDojoResponse(dojo))
	}
}

// POST /api/admin/dojos/:id/users
func CreateDojoUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var dojo models.Dojo
		if err := database.DB.First(&dojo, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "dojo not found")
		}

		var body CreateDojoUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name, email and password are required")
		}
		if len(body.Password) < 8 {
			return fiber.NewError(fiber.StatusBadRequest, "password must have at least 8 characters")
		}
		switch body.Role {
		case "":
			body.Role = models.RoleDojoAdmin
		case models.RoleDojoAdmin, models.RoleStaff:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "role must be dojo_admin or staff")
		}

		var exist models.User
		if err := database.DB.Where("email = ?", body.Email).First(&exist).Error; err == nil {
			return fiber.NewError(fiber.StatusConflict, "email already registered")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not hash password")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         body.Role,
			DojoID:       &dojo.ID,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create user")
		}

		return c.Status(fiber.StatusCreated).JSON(DojoUserResponse{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			Role:      user.Role,
			DojoID:    user.DojoID,
			CreatedAt: user.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
}

// GET /api/admin/dojos/:id/users
func ListDojoUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var users []models.User
		if err := database.DB.
			Where("dojo_id = ?", c.Params("id")).
			Order("created_at DESC").
			Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list users")
		}

		res := make([]DojoUserResponse, 0, len(users))
		for _, u := range users {
			res = append(res, DojoUserResponse{
				ID:        u.ID,
				Name:      u.Name,
				Email:     u.Email,
				Role:      u.Role,
				DojoID:    u.DojoID,
				CreatedAt: u.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return c.JSON(res)
	}
}
