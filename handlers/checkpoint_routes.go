package handlers

import (
	"github.com/gofiber/fiber/v2"

	"bounty-session-service/services"
)

func SetupCheckpointRoutes(app *fiber.App, checkpointService *services.CheckpointService) {
	app.Post("/v1/checkpoint/ready", func(c *fiber.Ctx) error {
		var req struct {
			Token string `json:"token"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := checkpointService.RequestReady(c.Context(), bearerToken(c, req.Token))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"checkpointId": res.Checkpoint.ID,
			"state":        res.Session.State,
			"token":        res.Token,
		})
	})

	app.Post("/v1/checkpoint/issue", func(c *fiber.Ctx) error {
		var req struct {
			CheckpointID *string `json:"checkpointId"`
			Token        string  `json:"token"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := checkpointService.IssueCode(c.Context(), bearerToken(c, req.Token), req.CheckpointID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"checkpointId": res.Checkpoint.ID,
			"code":         res.Code,
			"retryCount":   res.Checkpoint.RetryCount,
			"state":        res.Session.State,
			"token":        res.Token,
		})
	})

	app.Post("/v1/checkpoint/redeem", func(c *fiber.Ctx) error {
		var req struct {
			Code           string  `json:"code"`
			CheckpointID   *string `json:"checkpointId"`
			PayoutIntentID *string `json:"payoutIntentId"`
			Token          string  `json:"token"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := checkpointService.Redeem(c.Context(), bearerToken(c, req.Token), req.Code, req.CheckpointID, req.PayoutIntentID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"checkpointId":   res.Checkpoint.ID,
			"redemptionId":   res.Redemption.ID,
			"state":          res.Session.State,
			"payoutIntentId": res.Redemption.PayoutIntentID,
			"token":          res.Token,
		})
	})
}
