package database

import (
	"ipscope/internal/domain"
)

func GetUserFromId(id uint) domain.User {
	var user domain.User
	DB.Where("id = ?", id).First(&user)
	return user
}

func ChangePassword(userID uint, password string) error {
	return DB.Model(&domain.User{}).Where("ID = ?", userID).Update("password", password).Error
}
